package flat

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/globalid/blobstore"
	"github.com/hupe1980/globalid/codec"
	"github.com/hupe1980/globalid/distance"
	"github.com/hupe1980/globalid/index"
	"github.com/hupe1980/globalid/internal/compress"
	"github.com/hupe1980/globalid/internal/hash"
)

// Snapshot layout (little endian):
//
//	magic       [4]byte "GIDX"
//	version     uint16
//	compression uint8
//	metric      uint8
//	dimension   uint32
//	count       uint64
//	codecLen    uint8
//	codec       [codecLen]byte
//	frameLen    uint64
//	frame       [frameLen]byte  compressed body
//	checksum    uint32          CRC32C of all preceding bytes
//
// Body, per point in ascending id order:
//
//	id          uint64
//	vector      [dimension]float32
//	payloadLen  uint32
//	payload     [payloadLen]byte
var snapshotMagic = [4]byte{'G', 'I', 'D', 'X'}

const snapshotVersion = 1

// ErrCorruptSnapshot is returned when a snapshot fails validation.
var ErrCorruptSnapshot = errors.New("flat: corrupt snapshot")

// Snapshot writes the current state to store under name. It reports whether
// anything was written; an unchanged index since the last snapshot is skipped.
func (f *Index) Snapshot(ctx context.Context, store blobstore.BlobStore, name string) (bool, error) {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return false, errClosed
	}
	if !f.ready {
		f.mu.RUnlock()
		return false, index.ErrCollectionMissing
	}
	version := f.version.Load()
	if version != 0 && version == f.snapVersion.Load() {
		f.mu.RUnlock()
		return false, nil
	}

	dim, metric := f.dim, f.metric
	ids := make([]uint64, 0, len(f.points))
	points := make(map[uint64]point, len(f.points))
	for id, p := range f.points {
		ids = append(ids, id)
		// Stored vectors and payloads are never mutated in place.
		points[id] = p
	}
	f.mu.RUnlock()

	slices.Sort(ids)

	start := time.Now()
	data, err := encodeSnapshot(dim, metric, ids, points, f.opts.Compression)
	if err != nil {
		return false, err
	}

	if err := f.opts.Resources.AcquireIO(ctx, len(data)); err != nil {
		return false, err
	}
	if err := store.Put(ctx, name, data); err != nil {
		return false, fmt.Errorf("flat: write snapshot %s: %w", name, err)
	}

	f.snapVersion.Store(version)
	f.opts.Logger.InfoContext(ctx, "Snapshot written",
		slog.String("name", name),
		slog.Int("points", len(ids)),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", time.Since(start)),
	)
	return true, nil
}

// Restore replaces the index contents with the snapshot stored under name.
// A missing snapshot returns an error wrapping blobstore.ErrNotFound.
func (f *Index) Restore(ctx context.Context, store blobstore.BlobStore, name string) error {
	data, err := store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("flat: read snapshot %s: %w", name, err)
	}

	dim, metric, points, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errClosed
	}
	if f.ready && (f.dim != dim) {
		return &index.ErrDimensionMismatch{Expected: f.dim, Actual: dim}
	}
	if f.ready && f.metric != metric {
		return &index.ErrMetricMismatch{Expected: f.metric.String(), Actual: metric.String()}
	}

	f.ready = true
	f.dim = dim
	f.metric = metric
	f.points = make(map[uint64]point, len(points))
	f.postings = make(map[string]map[string]*roaring64.Bitmap)
	f.all = roaring64.New()
	for id, p := range points {
		f.points[id] = p
		f.indexLocked(id, p.payload)
	}

	v := f.version.Add(1)
	f.snapVersion.Store(v)

	f.opts.Logger.InfoContext(ctx, "Snapshot restored",
		slog.String("name", name),
		slog.Int("points", len(points)),
	)
	return nil
}

// RunSnapshots writes a snapshot every interval until ctx is done, then
// writes a final one. Failures are logged and retried on the next tick.
func (f *Index) RunSnapshots(ctx context.Context, store blobstore.BlobStore, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := f.Snapshot(ctx, store, name); err != nil && ctx.Err() == nil {
				f.opts.Logger.ErrorContext(ctx, "Snapshot failed", slog.String("name", name), slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			if _, err := f.Snapshot(final, store, name); err != nil && !errors.Is(err, index.ErrCollectionMissing) {
				f.opts.Logger.ErrorContext(final, "Final snapshot failed", slog.String("name", name), slog.String("error", err.Error()))
			}
			cancel()
			return
		}
	}
}

func encodeSnapshot(dim int, metric distance.Metric, ids []uint64, points map[uint64]point, ct compress.Type) ([]byte, error) {
	c := codec.Default

	var body bytes.Buffer
	var scratch [8]byte
	vecBuf := make([]byte, 4*dim)

	for _, id := range ids {
		p := points[id]

		binary.LittleEndian.PutUint64(scratch[:], id)
		body.Write(scratch[:8])

		for i, x := range p.vector {
			binary.LittleEndian.PutUint32(vecBuf[4*i:], math.Float32bits(x))
		}
		body.Write(vecBuf)

		var payload []byte
		if len(p.payload) > 0 {
			var err error
			if payload, err = c.Marshal(p.payload); err != nil {
				return nil, fmt.Errorf("flat: encode payload of %d: %w", id, err)
			}
		}
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(payload)))
		body.Write(scratch[:4])
		body.Write(payload)
	}

	frame, err := compress.Compress(body.Bytes(), ct)
	if err != nil {
		return nil, err
	}

	name := c.Name()
	out := make([]byte, 0, 4+2+1+1+4+8+1+len(name)+8+len(frame)+4)
	out = append(out, snapshotMagic[:]...)
	out = binary.LittleEndian.AppendUint16(out, snapshotVersion)
	out = append(out, byte(ct), byte(metric))
	out = binary.LittleEndian.AppendUint32(out, uint32(dim))
	out = binary.LittleEndian.AppendUint64(out, uint64(len(ids)))
	out = append(out, byte(len(name)))
	out = append(out, name...)
	out = binary.LittleEndian.AppendUint64(out, uint64(len(frame)))
	out = append(out, frame...)
	return hash.Seal(out), nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptSnapshot, fmt.Sprintf(format, args...))
}

func decodeSnapshot(data []byte) (int, distance.Metric, map[uint64]point, error) {
	if len(data) < 4+2+1+1+4+8+1+8+4 {
		return 0, 0, nil, corrupt("short file (%d bytes)", len(data))
	}

	content, err := hash.Open(data)
	if err != nil {
		return 0, 0, nil, corrupt("%v", err)
	}

	r := content
	if !bytes.Equal(r[:4], snapshotMagic[:]) {
		return 0, 0, nil, corrupt("bad magic")
	}
	if v := binary.LittleEndian.Uint16(r[4:]); v != snapshotVersion {
		return 0, 0, nil, corrupt("unsupported version %d", v)
	}
	ct := compress.Type(r[6])
	metric := distance.Metric(r[7])
	dim := int(binary.LittleEndian.Uint32(r[8:]))
	count := binary.LittleEndian.Uint64(r[12:])
	nameLen := int(r[20])
	r = r[21:]

	if len(r) < nameLen+8 {
		return 0, 0, nil, corrupt("truncated header")
	}
	c, ok := codec.ByName(string(r[:nameLen]))
	if !ok {
		return 0, 0, nil, corrupt("unknown codec %q", r[:nameLen])
	}
	r = r[nameLen:]

	frameLen := binary.LittleEndian.Uint64(r)
	r = r[8:]
	if uint64(len(r)) != frameLen {
		return 0, 0, nil, corrupt("frame length %d, have %d bytes", frameLen, len(r))
	}

	body, err := compress.Decompress(r, ct)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}

	if dim <= 0 {
		return 0, 0, nil, corrupt("invalid dimension %d", dim)
	}
	recordMin := uint64(8 + 4*dim + 4)
	if count > uint64(len(body))/recordMin {
		return 0, 0, nil, corrupt("count %d exceeds body size", count)
	}

	points := make(map[uint64]point, count)
	for range count {
		if uint64(len(body)) < recordMin {
			return 0, 0, nil, corrupt("truncated record")
		}
		id := binary.LittleEndian.Uint64(body)
		body = body[8:]

		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
		}
		body = body[4*dim:]

		n := int(binary.LittleEndian.Uint32(body))
		body = body[4:]
		if len(body) < n {
			return 0, 0, nil, corrupt("truncated payload of %d", id)
		}

		var payload index.Payload
		if n > 0 {
			if err := c.Unmarshal(body[:n], &payload); err != nil {
				return 0, 0, nil, fmt.Errorf("%w: payload of %d: %w", ErrCorruptSnapshot, id, err)
			}
		}
		body = body[n:]

		if _, dup := points[id]; dup {
			return 0, 0, nil, corrupt("duplicate id %d", id)
		}
		points[id] = point{vector: vec, payload: payload}
	}
	if len(body) != 0 {
		return 0, 0, nil, corrupt("%d trailing bytes", len(body))
	}

	return dim, metric, points, nil
}
