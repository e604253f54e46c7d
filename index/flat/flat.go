package flat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/globalid/distance"
	"github.com/hupe1980/globalid/index"
	"github.com/hupe1980/globalid/internal/compress"
	"github.com/hupe1980/globalid/internal/queue"
	"github.com/hupe1980/globalid/resource"
)

// Compile-time check to ensure Index satisfies index.Index.
var _ index.Index = (*Index)(nil)

var errClosed = fmt.Errorf("%w: %w", index.ErrUnavailable, index.ErrClosed)

// Options contains configuration options for the flat index.
type Options struct {
	// Logger receives snapshot events. Defaults to a discarding logger.
	Logger *slog.Logger

	// Compression is applied to snapshot bodies.
	Compression compress.Type

	// Resources throttles snapshot uploads. Nil means unlimited.
	Resources *resource.Controller
}

// DefaultOptions contains the default configuration options for the flat index.
var DefaultOptions = Options{
	Compression: compress.LZ4,
}

// Option configures an Index.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithCompression sets the snapshot compression.
func WithCompression(t compress.Type) Option {
	return func(o *Options) { o.Compression = t }
}

// WithResources throttles snapshot uploads through rc.
func WithResources(rc *resource.Controller) Option {
	return func(o *Options) { o.Resources = rc }
}

type point struct {
	vector  []float32
	payload index.Payload
}

// Index is an exact, in-memory vector index.
type Index struct {
	opts Options

	mu       sync.RWMutex
	ready    bool
	dim      int
	metric   distance.Metric
	points   map[uint64]point
	postings map[string]map[string]*roaring64.Bitmap
	all      *roaring64.Bitmap
	closed   bool

	// version increases on every mutation; snapshots record the version they
	// captured so unchanged state is not rewritten.
	version     atomic.Uint64
	snapVersion atomic.Uint64
}

// New creates an empty index. EnsureCollection or Restore must be called
// before use.
func New(optFns ...Option) *Index {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Index{
		opts:     opts,
		points:   make(map[uint64]point),
		postings: make(map[string]map[string]*roaring64.Bitmap),
		all:      roaring64.New(),
	}
}

// EnsureCollection fixes the dimension and metric. It is idempotent for
// identical arguments.
func (f *Index) EnsureCollection(ctx context.Context, dimension int, metric distance.Metric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("flat: invalid dimension %d", dimension)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errClosed
	}
	if f.ready {
		if f.dim != dimension {
			return &index.ErrDimensionMismatch{Expected: dimension, Actual: f.dim}
		}
		if f.metric != metric {
			return &index.ErrMetricMismatch{Expected: metric.String(), Actual: f.metric.String()}
		}
		return nil
	}

	f.ready = true
	f.dim = dimension
	f.metric = metric
	return nil
}

// Upsert inserts or replaces the vector and payload of id.
func (f *Index) Upsert(ctx context.Context, id uint64, vector []float32, payload index.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkLocked(len(vector)); err != nil {
		return err
	}

	if old, ok := f.points[id]; ok {
		f.unindexLocked(id, old.payload)
	}

	p := point{
		vector:  append([]float32(nil), vector...),
		payload: maps.Clone(payload),
	}
	f.points[id] = p
	f.indexLocked(id, p.payload)
	f.version.Add(1)
	return nil
}

// Search returns the k most similar points that satisfy filter.
func (f *Index) Search(ctx context.Context, query []float32, k int, filter index.Filter) ([]index.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.checkLocked(len(query)); err != nil {
		return nil, err
	}

	candidates := f.compileFilterLocked(filter)
	if candidates.IsEmpty() {
		return nil, nil
	}

	top := queue.NewTopK(k)
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		top.Offer(queue.Item{ID: id, Score: distance.Similarity(f.metric, query, f.points[id].vector)})
	}

	items := top.Sorted()
	results := make([]index.Result, len(items))
	for i, item := range items {
		results[i] = index.Result{
			ID:      item.ID,
			Score:   item.Score,
			Payload: maps.Clone(f.points[item.ID].payload),
		}
	}
	return results, nil
}

// Get returns a copy of the vector and payload stored for id.
func (f *Index) Get(id uint64) ([]float32, index.Payload, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.points[id]
	if !ok {
		return nil, nil, false
	}
	return append([]float32(nil), p.vector...), maps.Clone(p.payload), true
}

// Len returns the number of stored points.
func (f *Index) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.points)
}

// MaxID returns the largest stored point ID, or 0 when the index is empty.
func (f *Index) MaxID() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var maxID uint64
	for id := range f.points {
		maxID = max(maxID, id)
	}
	return maxID
}

// Stats describes the index contents.
type Stats struct {
	Points    int
	Dimension int
	Metric    string
	Fields    int
	Postings  int
}

// Stats returns a point-in-time summary.
func (f *Index) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := Stats{Points: len(f.points), Dimension: f.dim, Fields: len(f.postings)}
	if f.ready {
		s.Metric = f.metric.String()
	}
	for _, values := range f.postings {
		s.Postings += len(values)
	}
	return s
}

// Close marks the index closed. Later calls fail with index.ErrUnavailable.
func (f *Index) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *Index) checkLocked(dim int) error {
	if f.closed {
		return errClosed
	}
	if !f.ready {
		return index.ErrCollectionMissing
	}
	if dim != f.dim {
		return &index.ErrDimensionMismatch{Expected: f.dim, Actual: dim}
	}
	return nil
}

func (f *Index) indexLocked(id uint64, payload index.Payload) {
	f.all.Add(id)
	for key, v := range payload {
		s, ok := v.(string)
		if !ok {
			continue
		}
		values, ok := f.postings[key]
		if !ok {
			values = make(map[string]*roaring64.Bitmap)
			f.postings[key] = values
		}
		bm, ok := values[s]
		if !ok {
			bm = roaring64.New()
			values[s] = bm
		}
		bm.Add(id)
	}
}

func (f *Index) unindexLocked(id uint64, payload index.Payload) {
	f.all.Remove(id)
	for key, v := range payload {
		s, ok := v.(string)
		if !ok {
			continue
		}
		values := f.postings[key]
		bm := values[s]
		if bm == nil {
			continue
		}
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(values, s)
			if len(values) == 0 {
				delete(f.postings, key)
			}
		}
	}
}

// compileFilterLocked intersects the posting lists of every constraint.
// The returned bitmap must not be modified.
func (f *Index) compileFilterLocked(filter index.Filter) *roaring64.Bitmap {
	if len(filter) == 0 {
		return f.all
	}

	var result *roaring64.Bitmap
	for key, value := range filter {
		bm := f.postings[key][value]
		if bm == nil {
			return roaring64.New()
		}
		if result == nil {
			result = bm.Clone()
			continue
		}
		result.And(bm)
		if result.IsEmpty() {
			return result
		}
	}
	return result
}
