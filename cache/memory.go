package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCounter is an in-process Counter.
type MemoryCounter struct {
	n atomic.Uint64
}

// NewMemoryCounter returns a counter whose first value is start+1.
func NewMemoryCounter(start uint64) *MemoryCounter {
	c := &MemoryCounter{}
	c.n.Store(start)
	return c
}

// Next implements Counter.
func (c *MemoryCounter) Next(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.n.Add(1), nil
}

// Current returns the last allocated value.
func (c *MemoryCounter) Current() uint64 { return c.n.Load() }

type memoryEntry struct {
	value   []byte
	expires time.Time // zero: never
}

// Memory is an in-process Store. Expiry is evaluated lazily against the
// configured clock.
type Memory struct {
	opts Options

	mu      sync.RWMutex
	entries map[string]memoryEntry
	history map[uint64][]string
	closed  bool
}

// NewMemory creates an empty in-process store.
func NewMemory(optFns ...Option) *Memory {
	o := ApplyOptions(optFns...)
	if o.Counter == nil {
		o.Counter = NewMemoryCounter(0)
	}
	return &Memory{
		opts:    o,
		entries: make(map[string]memoryEntry),
		history: make(map[uint64][]string),
	}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, cameraID, trackID string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	key := RecordKey(cameraID, trackID)

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return Record{}, false, ErrClosed
	}
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || m.expired(e) {
		return Record{}, false, nil
	}

	rec, err := DecodeRecord(m.opts.Codec, cameraID, trackID, e.value)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, rec Record, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeRecord(m.opts.Codec, rec)
	if err != nil {
		return err
	}
	return m.SetRaw(RecordKey(rec.CameraID, rec.TrackID), data, ttl)
}

// SetRaw stores value under key verbatim. It exists so tests can plant legacy
// and malformed values.
func (m *Memory) SetRaw(key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.opts.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries[key] = e
	return nil
}

// NextGlobalID implements Store.
func (m *Memory) NextGlobalID(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return 0, ErrClosed
	}
	return m.opts.Counter.Next(ctx)
}

// AppendTrackHistory implements Store.
func (m *Memory) AppendTrackHistory(ctx context.Context, globalID uint64, cameraID, trackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.history[globalID] = append(m.history[globalID], HistoryEntry(cameraID, trackID))
	return nil
}

// TrackHistory implements Store.
func (m *Memory) TrackHistory(ctx context.Context, globalID uint64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	h := m.history[globalID]
	out := make([]string, len(h))
	copy(out, h)
	return out, nil
}

// Records implements Store.
func (m *Memory) Records(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	snapshot := make(map[string]memoryEntry, len(m.entries))
	for k, e := range m.entries {
		if strings.HasPrefix(k, recordPrefix) {
			snapshot[k] = e
		}
	}
	m.mu.RUnlock()

	recs := make([]Record, 0, len(snapshot))
	for k, e := range snapshot {
		if m.expired(e) {
			continue
		}
		cam, track, ok := ParseRecordKey(k)
		if !ok {
			continue
		}
		rec, err := DecodeRecord(m.opts.Codec, cam, track, e.value)
		if err != nil {
			m.opts.Logger.WarnContext(ctx, "Skipping malformed cache value", slog.String("key", k), slog.String("error", err.Error()))
			continue
		}
		recs = append(recs, rec)
	}
	SortRecords(recs)
	return recs, nil
}

// Len returns the number of stored mapping entries, including expired ones
// not yet observed.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && !m.opts.Now().Before(e.expires)
}
