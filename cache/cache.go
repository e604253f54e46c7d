package cache

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/globalid/codec"
)

const (
	// DefaultTTL is the lifetime of a mapping entry.
	DefaultTTL = time.Hour

	// CounterKey holds the global ID counter.
	CounterKey = "global_id_counter"

	recordPrefix  = "global_id:"
	historyPrefix = "track_ids:"
)

// Record is the value stored for a (camera, track) mapping.
type Record struct {
	GlobalID  uint64  `json:"global_id"`
	CameraID  string  `json:"camera_id"`
	TrackID   string  `json:"track_id"`
	Zone      string  `json:"zone"`
	Timestamp float64 `json:"timestamp"`
}

// Time returns the record timestamp as a time.Time.
func (r Record) Time() time.Time {
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Store is a mapping cache backend. Implementations must be safe for
// concurrent use, and NextGlobalID must be atomic across every process that
// shares the store.
type Store interface {
	// Get returns the record for (cameraID, trackID). A missing or expired
	// entry reports ok=false. An undecodable value returns a
	// *MalformedValueError.
	Get(ctx context.Context, cameraID, trackID string) (rec Record, ok bool, err error)

	// Set writes rec under its (CameraID, TrackID) key and resets its TTL.
	Set(ctx context.Context, rec Record, ttl time.Duration) error

	// NextGlobalID returns a fresh identity. Values are strictly increasing
	// and never reused.
	NextGlobalID(ctx context.Context) (uint64, error)

	// AppendTrackHistory appends "camera:track" to the history of globalID.
	AppendTrackHistory(ctx context.Context, globalID uint64, cameraID, trackID string) error

	// TrackHistory returns the history of globalID in append order.
	TrackHistory(ctx context.Context, globalID uint64) ([]string, error)

	// Records returns every live mapping. Malformed values are skipped.
	Records(ctx context.Context) ([]Record, error)

	Close() error
}

// Counter allocates global IDs. Stores use their own counter unless one is
// supplied with WithCounter.
type Counter interface {
	Next(ctx context.Context) (uint64, error)
}

// Options holds backend-independent store settings.
type Options struct {
	Counter Counter
	Codec   codec.Codec
	Logger  *slog.Logger
	Now     func() time.Time
}

// Option configures a store.
type Option func(*Options)

// WithCounter replaces the store's own counter.
func WithCounter(c Counter) Option {
	return func(o *Options) { o.Counter = c }
}

// WithCodec sets the codec used to encode records.
func WithCodec(c codec.Codec) Option {
	return func(o *Options) { o.Codec = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// ApplyOptions returns Options with defaults filled in.
func ApplyOptions(optFns ...Option) Options {
	o := Options{
		Codec: codec.Default,
		Now:   time.Now,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// RecordKey returns the key of the mapping for (cameraID, trackID).
func RecordKey(cameraID, trackID string) string {
	return recordPrefix + cameraID + ":" + trackID
}

// RecordPattern matches every mapping key.
const RecordPattern = recordPrefix + "*"

// ParseRecordKey splits a mapping key into camera and track. The camera ID
// ends at the first colon.
func ParseRecordKey(key string) (cameraID, trackID string, ok bool) {
	rest, found := strings.CutPrefix(key, recordPrefix)
	if !found {
		return "", "", false
	}
	return strings.Cut(rest, ":")
}

// HistoryKey returns the key of the track history of globalID.
func HistoryKey(globalID uint64) string {
	return historyPrefix + strconv.FormatUint(globalID, 10)
}

// HistoryEntry formats a history element.
func HistoryEntry(cameraID, trackID string) string {
	return cameraID + ":" + trackID
}

// EncodeRecord encodes rec with c, or the default codec if c is nil.
func EncodeRecord(c codec.Codec, rec Record) ([]byte, error) {
	if c == nil {
		c = codec.Default
	}
	return c.Marshal(rec)
}

// DecodeRecord decodes the value stored under the mapping for
// (cameraID, trackID). A bare decimal integer is a legacy value holding only
// the global ID; its record carries the key's camera and track, zone
// "unknown" and a zero timestamp.
func DecodeRecord(c codec.Codec, cameraID, trackID string, data []byte) (Record, error) {
	key := RecordKey(cameraID, trackID)
	s := strings.TrimSpace(string(data))

	if s != "" && isDigits(s) {
		gid, err := strconv.ParseUint(s, 10, 64)
		if err != nil || gid == 0 {
			return Record{}, &MalformedValueError{Key: key, Value: s, Err: err}
		}
		return Record{GlobalID: gid, CameraID: cameraID, TrackID: trackID, Zone: UnknownZone}, nil
	}

	if !strings.HasPrefix(s, "{") {
		return Record{}, &MalformedValueError{Key: key, Value: s}
	}

	if c == nil {
		c = codec.Default
	}
	var rec Record
	if err := c.Unmarshal([]byte(s), &rec); err != nil {
		return Record{}, &MalformedValueError{Key: key, Value: s, Err: err}
	}
	if rec.GlobalID == 0 {
		return Record{}, &MalformedValueError{Key: key, Value: s}
	}
	if rec.CameraID == "" {
		rec.CameraID = cameraID
	}
	if rec.TrackID == "" {
		rec.TrackID = trackID
	}
	if rec.Zone == "" {
		rec.Zone = UnknownZone
	}
	return rec, nil
}

// UnknownZone is stored when an observation has no zone.
const UnknownZone = "unknown"

// SortRecords orders records by timestamp, newest first. Ties are ordered by
// global ID.
func SortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Timestamp != recs[j].Timestamp {
			return recs[i].Timestamp > recs[j].Timestamp
		}
		return recs[i].GlobalID < recs[j].GlobalID
	})
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
