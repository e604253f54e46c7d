package globalid

import (
	"log/slog"
	"time"

	"github.com/hupe1980/globalid/cache"
	"github.com/hupe1980/globalid/distance"
	"github.com/hupe1980/globalid/matcher"
	"github.com/hupe1980/globalid/resource"
	"github.com/hupe1980/globalid/topology"
)

const (
	// DefaultBackendTimeout bounds each index and cache call.
	DefaultBackendTimeout = 2 * time.Second

	// DefaultServiceName is used in log output.
	DefaultServiceName = "GlobalIDManager"
)

type options struct {
	threshold         float64
	topK              int
	ttl               time.Duration
	backendTimeout    time.Duration
	dimension         int
	metric            distance.Metric
	cameraScope       bool
	zoneSerialization bool
	refreshOnHit      bool
	topology          *topology.Topology
	resources         *resource.Controller
	shedLoad          bool
	metricsCollector  MetricsCollector
	logger            *Logger
	now               func() time.Time
}

// Option configures an Engine.
type Option func(*options)

// WithThreshold sets the minimum similarity for adopting an existing
// identity. It must lie in (0, 1]. Default 0.90.
func WithThreshold(t float64) Option {
	return func(o *options) { o.threshold = t }
}

// WithTopK sets how many candidates the matcher requests. Default 5.
func WithTopK(k int) Option {
	return func(o *options) { o.topK = k }
}

// WithCacheTTL sets the lifetime of (camera, track) mappings. Default one
// hour.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithBackendTimeout bounds every index and cache call. A call that exceeds
// it fails the resolution with ErrBackendUnavailable.
func WithBackendTimeout(d time.Duration) Option {
	return func(o *options) { o.backendTimeout = d }
}

// WithDimension fixes the embedding dimension. New creates or verifies the
// index collection with it, and Resolve rejects embeddings of any other
// length.
func WithDimension(dim int) Option {
	return func(o *options) { o.dimension = dim }
}

// WithMetric sets the distance metric used when creating the collection.
// Default cosine.
func WithMetric(m distance.Metric) Option {
	return func(o *options) { o.metric = m }
}

// WithTopology derives the zone of observations that do not carry one.
func WithTopology(t *topology.Topology) Option {
	return func(o *options) { o.topology = t }
}

// WithCameraScope restricts matching to identities last seen by the same
// camera. It is off by default, since it prevents cross-camera matches.
func WithCameraScope(enabled bool) Option {
	return func(o *options) { o.cameraScope = enabled }
}

// WithZoneSerialization serializes resolution within each zone, in
// addition to the per-(camera, track) serialization that always applies.
// It prevents two new entities in one zone from racing to allocate.
func WithZoneSerialization(enabled bool) Option {
	return func(o *options) { o.zoneSerialization = enabled }
}

// WithRefreshOnHit upserts the observation's embedding into the index on a
// cache hit, keeping the representative embedding current while the cache
// answers. The matcher is still skipped.
func WithRefreshOnHit(enabled bool) Option {
	return func(o *options) { o.refreshOnHit = enabled }
}

// WithResourceLimits admits Resolve calls through a resource controller.
func WithResourceLimits(cfg resource.Config) Option {
	return func(o *options) { o.resources = resource.NewController(cfg) }
}

// WithResourceController shares an existing controller.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.resources = rc }
}

// WithShedLoad rejects a Resolve call with ErrBackendUnavailable when every
// in-flight slot is taken instead of waiting for one. The rate limiter is
// not consulted in this mode.
func WithShedLoad(enabled bool) Option {
	return func(o *options) { o.shedLoad = enabled }
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &globalid.BasicMetricsCollector{}
//	eng, _ := globalid.New(ctx, idx, store, globalid.WithMetricsCollector(metrics))
//	// ... resolve ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) { o.metricsCollector = mc }
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) { o.logger = NewTextLogger(level) }
}

// withClock is used by tests.
func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func applyOptions(optFns []Option) options {
	o := options{
		threshold:        matcher.DefaultThreshold,
		topK:             matcher.DefaultTopK,
		ttl:              cache.DefaultTTL,
		backendTimeout:   DefaultBackendTimeout,
		metric:           distance.MetricCosine,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		now:              time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
