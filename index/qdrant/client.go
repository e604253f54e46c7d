package qdrant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync/atomic"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hupe1980/globalid/distance"
	"github.com/hupe1980/globalid/index"
)

// Compile-time check to ensure Client satisfies index.Index.
var _ index.Index = (*Client)(nil)

// DefaultPort is the Qdrant gRPC port.
const DefaultPort = 6334

// API is the subset of *qdrant.Client used by the index.
type API interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

var _ API = (*qdrant.Client)(nil)

// Config describes a Qdrant deployment.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Option configures a Client.
type Option func(*Client)

// WithMetric sets the metric used to interpret scores without calling
// EnsureCollection.
func WithMetric(m distance.Metric) Option {
	return func(c *Client) { c.metric.Store(int32(m)) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client stores identity embeddings in one Qdrant collection.
type Client struct {
	api        API
	collection string
	logger     *slog.Logger

	// metric is recorded by EnsureCollection to interpret scores.
	metric atomic.Int32
}

// Dial connects to Qdrant over gRPC.
func Dial(cfg Config, collection string, optFns ...Option) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("qdrant: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	api, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant: connect %s:%d: %w", index.ErrUnavailable, cfg.Host, cfg.Port, err)
	}
	c, err := New(api, collection, optFns...)
	if err != nil {
		_ = api.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an API client for collection.
func New(api API, collection string, optFns ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("qdrant: client is required")
	}
	if collection == "" {
		return nil, errors.New("qdrant: collection is required")
	}
	c := &Client{
		api:        api,
		collection: collection,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range optFns {
		fn(c)
	}
	return c, nil
}

func toDistance(m distance.Metric) qdrant.Distance {
	switch m {
	case distance.MetricDot:
		return qdrant.Distance_Dot
	case distance.MetricEuclidean:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

// EnsureCollection creates the collection if it does not exist and checks
// the dimension and distance of an existing one.
func (c *Client) EnsureCollection(ctx context.Context, dimension int, metric distance.Metric) error {
	if dimension <= 0 {
		return fmt.Errorf("qdrant: invalid dimension %d", dimension)
	}

	exists, err := c.api.CollectionExists(ctx, c.collection)
	if err != nil {
		return translate("collection exists", err)
	}

	if !exists {
		c.logger.InfoContext(ctx, "Creating collection",
			slog.String("collection", c.collection),
			slog.Int("dimension", dimension),
			slog.String("distance", toDistance(metric).String()),
		)
		err := c.api.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: toDistance(metric),
			}),
		})
		if err != nil {
			return translate("create collection", err)
		}
	} else {
		info, err := c.api.GetCollectionInfo(ctx, c.collection)
		if err != nil {
			return translate("collection info", err)
		}
		params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
		if params == nil {
			return fmt.Errorf("qdrant: collection %s has no unnamed vector", c.collection)
		}
		if int(params.GetSize()) != dimension {
			return &index.ErrDimensionMismatch{Expected: dimension, Actual: int(params.GetSize())}
		}
		if want := toDistance(metric); params.GetDistance() != want {
			return &index.ErrMetricMismatch{Expected: want.String(), Actual: params.GetDistance().String()}
		}
	}

	c.metric.Store(int32(metric))
	return nil
}

// Upsert writes one point and waits for it to be applied.
func (c *Client) Upsert(ctx context.Context, id uint64, vector []float32, payload index.Payload) error {
	_, err := c.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDNum(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: toValueMap(payload),
		}},
	})
	return translate("upsert", err)
}

// Search runs a filtered similarity search.
func (c *Client) Search(ctx context.Context, query []float32, k int, filter index.Filter) ([]index.Result, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	req := &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         toFilter(filter),
	}
	points, err := c.api.Query(ctx, req)
	if err != nil {
		return nil, translate("query", err)
	}

	euclid := distance.Metric(c.metric.Load()) == distance.MetricEuclidean
	results := make([]index.Result, len(points))
	for i, p := range points {
		score := p.GetScore()
		if euclid {
			score = distance.EuclideanSimilarity(score)
		}
		results[i] = index.Result{ID: p.GetId().GetNum(), Score: score, Payload: fromValueMap(p.GetPayload())}
	}
	// Euclid distances come back ascending; after conversion they must be
	// re-sorted by similarity.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.api.Close()
}

// toFilter builds a "must" list of keyword matches in key order.
func toFilter(filter index.Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	f := &qdrant.Filter{}
	for _, key := range keys {
		f.Must = append(f.Must, qdrant.NewMatch(key, filter[key]))
	}
	return f
}

func toValueMap(p index.Payload) map[string]*qdrant.Value {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]*qdrant.Value, len(p))
	for k, v := range p {
		switch x := v.(type) {
		case string:
			out[k] = qdrant.NewValueString(x)
		case float64:
			out[k] = qdrant.NewValueDouble(x)
		case float32:
			out[k] = qdrant.NewValueDouble(float64(x))
		case int:
			out[k] = qdrant.NewValueInt(int64(x))
		case int64:
			out[k] = qdrant.NewValueInt(x)
		case uint64:
			out[k] = qdrant.NewValueInt(int64(x))
		case bool:
			out[k] = qdrant.NewValueBool(x)
		case nil:
			out[k] = qdrant.NewValueNull()
		default:
			out[k] = qdrant.NewValueString(fmt.Sprint(x))
		}
	}
	return out
}

func fromValueMap(m map[string]*qdrant.Value) index.Payload {
	if len(m) == 0 {
		return nil
	}
	out := make(index.Payload, len(m))
	for k, v := range m {
		switch x := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = x.StringValue
		case *qdrant.Value_DoubleValue:
			out[k] = x.DoubleValue
		case *qdrant.Value_IntegerValue:
			out[k] = x.IntegerValue
		case *qdrant.Value_BoolValue:
			out[k] = x.BoolValue
		}
	}
	return out
}

// translate maps gRPC failures onto the index error classes. Transport
// faults and timeouts are never reported as an empty result.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: qdrant: %s: %w", index.ErrUnavailable, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("qdrant: %s: %w", op, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: qdrant: %s: %w", index.ErrUnavailable, op, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal, codes.Unknown:
		return fmt.Errorf("%w: qdrant: %s: %w", index.ErrUnavailable, op, err)
	case codes.NotFound:
		return fmt.Errorf("%w: qdrant: %s: %w", index.ErrCollectionMissing, op, err)
	default:
		return fmt.Errorf("qdrant: %s: %w", op, err)
	}
}
