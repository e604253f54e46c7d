package index

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hupe1980/globalid/distance"
)

// Payload is the metadata stored with a point.
type Payload map[string]any

// String returns the value of key as a string. Numbers are formatted.
func (p Payload) String(key string) (string, bool) {
	switch v := p[key].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// Float returns the value of key as a float64.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Filter is a conjunction of exact-match constraints on string payload fields.
// A nil or empty filter matches every point.
type Filter map[string]string

// Result is a search hit.
type Result struct {
	ID      uint64
	Score   float32
	Payload Payload
}

// Index is a nearest-neighbor index over fixed-dimension vectors.
// Implementations must be safe for concurrent use.
type Index interface {
	// EnsureCollection creates the backing collection if it is absent. It fails
	// with *ErrDimensionMismatch if an existing collection has another
	// dimension.
	EnsureCollection(ctx context.Context, dimension int, metric distance.Metric) error

	// Upsert inserts or replaces the vector and payload of id.
	Upsert(ctx context.Context, id uint64, vector []float32, payload Payload) error

	// Search returns at most k results sorted by descending score. An empty
	// result is not an error.
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error)

	// Close releases resources held by the index.
	Close() error
}

// Payload field names written by the resolver. Zone and camera are the
// filterable fields.
const (
	FieldCamera    = "cam_id"
	FieldTrack     = "track_id"
	FieldZone      = "zone"
	FieldTimestamp = "timestamp"
)
