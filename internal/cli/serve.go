package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/globalid"
	"github.com/hupe1980/globalid/blobstore"
	miniostore "github.com/hupe1980/globalid/blobstore/minio"
	s3store "github.com/hupe1980/globalid/blobstore/s3"
	"github.com/hupe1980/globalid/cache"
	"github.com/hupe1980/globalid/cache/dynamo"
	"github.com/hupe1980/globalid/cache/redis"
	"github.com/hupe1980/globalid/cache/sqlite"
	"github.com/hupe1980/globalid/distance"
	"github.com/hupe1980/globalid/index"
	"github.com/hupe1980/globalid/index/flat"
	"github.com/hupe1980/globalid/index/qdrant"
	promcollector "github.com/hupe1980/globalid/metrics/prometheus"
	"github.com/hupe1980/globalid/resource"
	"github.com/hupe1980/globalid/server"
	"github.com/hupe1980/globalid/topology"
)

type serveConfig struct {
	addr            string
	shutdownTimeout time.Duration

	logLevel    string
	logFormat   string
	serviceName string

	topologyPath string
	topologyBlob string

	indexBackend     string
	qdrantHost       string
	qdrantPort       int
	qdrantCollection string
	qdrantAPIKey     string
	qdrantTLS        bool
	vectorSize       int
	distance         string

	cacheBackend  string
	redisURL      string
	sqlitePath    string
	purgeInterval time.Duration
	dynamoTable   string
	awsRegion     string

	threshold         float64
	topK              int
	cacheTTL          time.Duration
	backendTimeout    time.Duration
	cameraScope       bool
	zoneSerialization bool
	refreshOnHit      bool

	maxInFlight   int64
	ratePerSecond float64
	burst         int
	shedLoad      bool

	snapshotStore    string
	snapshotName     string
	snapshotInterval time.Duration
	snapshotIOLimit  int64
	snapshotDir      string
	s3Bucket         string
	s3Prefix         string
	s3Endpoint       string
	minioEndpoint    string
	minioAccessKey   string
	minioSecretKey   string
	minioBucket      string
	minioSecure      bool

	metrics bool
}

// ServeCmd returns the serve command.
func ServeCmd() *cobra.Command {
	var c serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the global ID HTTP service",
		Long: `Run the HTTP service. Every flag defaults from an environment variable
so a container can be configured without a command line.

Backends:
  --index   flat (in process, optional snapshots) | qdrant
  --cache   memory | redis | sqlite
  --snapshot-store  none | local | s3 | minio   (flat index only)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), c)
		},
	}

	f := cmd.Flags()
	f.StringVar(&c.addr, "addr", envString("LISTEN_ADDR", ":8000"), "HTTP listen address")
	f.DurationVar(&c.shutdownTimeout, "shutdown-timeout", 15*time.Second, "Graceful shutdown timeout")

	f.StringVar(&c.logLevel, "log-level", envString("LOG_LEVEL", "INFO"), "Log level (DEBUG, INFO, WARN, ERROR)")
	f.StringVar(&c.logFormat, "log-format", envString("LOG_FORMAT", "text"), "Log format (text, json)")
	f.StringVar(&c.serviceName, "service-name", envString("SERVICE_NAME", globalid.DefaultServiceName), "Service name attached to log records")

	f.StringVar(&c.topologyPath, "topology", envString("TOPOLOGY_CONFIG", ""), "Topology YAML file")
	f.StringVar(&c.topologyBlob, "topology-blob", envString("TOPOLOGY_BLOB", ""), "Topology document name in the snapshot store")

	f.StringVar(&c.indexBackend, "index", envString("INDEX_BACKEND", "qdrant"), "Vector index backend (flat, qdrant)")
	f.StringVar(&c.qdrantHost, "qdrant-host", envString("QDRANT_HOST", "localhost"), "Qdrant host")
	f.IntVar(&c.qdrantPort, "qdrant-port", envInt("QDRANT_GRPC_PORT", qdrant.DefaultPort), "Qdrant gRPC port")
	f.StringVar(&c.qdrantCollection, "qdrant-collection", envString("QDRANT_COLLECTION", "global_id_embeddings"), "Qdrant collection")
	f.StringVar(&c.qdrantAPIKey, "qdrant-api-key", envString("QDRANT_API_KEY", ""), "Qdrant API key")
	f.BoolVar(&c.qdrantTLS, "qdrant-tls", envBool("QDRANT_TLS", false), "Use TLS for the Qdrant connection")
	f.IntVar(&c.vectorSize, "vector-size", envInt("QDRANT_VECTOR_SIZE", 256), "Embedding dimension")
	f.StringVar(&c.distance, "distance", envString("QDRANT_DISTANCE", "Cosine"), "Similarity metric (Cosine, Dot, Euclidean)")

	f.StringVar(&c.cacheBackend, "cache", envString("CACHE_BACKEND", "redis"), "Mapping cache backend (memory, redis, sqlite)")
	f.StringVar(&c.redisURL, "redis-url", envString("REDIS_URL", "redis://localhost:6379/0"), "Redis URL")
	f.StringVar(&c.sqlitePath, "sqlite-path", envString("SQLITE_PATH", "globalid.db"), "SQLite database file")
	f.DurationVar(&c.purgeInterval, "sqlite-purge-interval", time.Minute, "Interval for deleting expired SQLite mappings")
	f.StringVar(&c.dynamoTable, "dynamo-counter-table", envString("DYNAMO_COUNTER_TABLE", ""), "Allocate global ids from a DynamoDB counter in this table")
	f.StringVar(&c.awsRegion, "aws-region", envString("AWS_REGION", ""), "AWS region override")

	f.Float64Var(&c.threshold, "threshold", envFloat("EMBEDDING_MATCH_THRESHOLD", 0.90), "Minimum similarity for a match")
	f.IntVar(&c.topK, "top-k", envInt("MATCH_TOP_K", 5), "Candidates requested per search")
	f.DurationVar(&c.cacheTTL, "cache-ttl", envSeconds("CACHE_TTL_SECONDS", cache.DefaultTTL), "Mapping time-to-live")
	f.DurationVar(&c.backendTimeout, "backend-timeout", globalid.DefaultBackendTimeout, "Per-call backend timeout")
	f.BoolVar(&c.cameraScope, "camera-scope", envBool("MATCH_CAMERA_SCOPE", false), "Only match identities last seen by the same camera")
	f.BoolVar(&c.zoneSerialization, "zone-serialization", envBool("ZONE_SERIALIZATION", false), "Serialize resolutions per zone")
	f.BoolVar(&c.refreshOnHit, "refresh-on-hit", envBool("REFRESH_ON_HIT", false), "Re-upsert the embedding on cache hits")

	f.Int64Var(&c.maxInFlight, "max-in-flight", int64(envInt("MAX_IN_FLIGHT", 0)), "Concurrent resolution limit (0 = unlimited)")
	f.Float64Var(&c.ratePerSecond, "rate", envFloat("RATE_PER_SECOND", 0), "Admitted resolutions per second (0 = unlimited)")
	f.IntVar(&c.burst, "burst", envInt("RATE_BURST", 0), "Rate limiter burst")
	f.BoolVar(&c.shedLoad, "shed-load", envBool("SHED_LOAD", false), "Reject with 503 instead of queueing when --max-in-flight is reached")

	f.StringVar(&c.snapshotStore, "snapshot-store", envString("SNAPSHOT_STORE", "none"), "Snapshot store (none, local, s3, minio)")
	f.StringVar(&c.snapshotName, "snapshot-name", envString("SNAPSHOT_NAME", "index.gidx"), "Snapshot blob name")
	f.DurationVar(&c.snapshotInterval, "snapshot-interval", 5*time.Minute, "Snapshot interval")
	f.Int64Var(&c.snapshotIOLimit, "snapshot-io-limit", 0, "Snapshot upload limit in bytes per second (0 = unlimited)")
	f.StringVar(&c.snapshotDir, "snapshot-dir", envString("SNAPSHOT_DIR", "snapshots"), "Directory for the local snapshot store")
	f.StringVar(&c.s3Bucket, "s3-bucket", envString("S3_BUCKET", ""), "S3 bucket")
	f.StringVar(&c.s3Prefix, "s3-prefix", envString("S3_PREFIX", ""), "S3 key prefix")
	f.StringVar(&c.s3Endpoint, "s3-endpoint", envString("S3_ENDPOINT", ""), "Custom S3 endpoint")
	f.StringVar(&c.minioEndpoint, "minio-endpoint", envString("MINIO_ENDPOINT", "localhost:9000"), "MinIO endpoint")
	f.StringVar(&c.minioAccessKey, "minio-access-key", envString("MINIO_ACCESS_KEY", ""), "MinIO access key")
	f.StringVar(&c.minioSecretKey, "minio-secret-key", envString("MINIO_SECRET_KEY", ""), "MinIO secret key")
	f.StringVar(&c.minioBucket, "minio-bucket", envString("MINIO_BUCKET", "globalid"), "MinIO bucket")
	f.BoolVar(&c.minioSecure, "minio-secure", envBool("MINIO_SECURE", false), "Use TLS for MinIO")

	f.BoolVar(&c.metrics, "metrics", envBool("METRICS_ENABLED", true), "Expose Prometheus metrics on /metrics")

	return cmd
}

func newLogger(c serveConfig) *globalid.Logger {
	level := globalid.ParseLevel(c.logLevel)
	var l *globalid.Logger
	if c.logFormat == "json" {
		l = globalid.NewJSONLogger(level)
	} else {
		l = globalid.NewTextLogger(level)
	}
	return l.WithService(c.serviceName)
}

func runServe(ctx context.Context, c serveConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(c)

	metric, err := distance.ParseMetric(c.distance)
	if err != nil {
		return err
	}

	rc := resource.NewController(resource.Config{
		MaxInFlight:        c.maxInFlight,
		RatePerSecond:      c.ratePerSecond,
		Burst:              c.burst,
		IOLimitBytesPerSec: c.snapshotIOLimit,
	})

	snapshots, err := openSnapshotStore(ctx, c)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}

	topo, err := loadTopology(ctx, c, snapshots)
	if err != nil {
		return fmt.Errorf("topology: %w", err)
	}

	idx, flatIdx, err := openIndex(ctx, c, metric, rc, snapshots, logger)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}

	var lastID uint64
	if flatIdx != nil {
		lastID = flatIdx.MaxID()
	}
	store, err := openCache(ctx, c, lastID, logger)
	if err != nil {
		_ = idx.Close()
		return fmt.Errorf("cache: %w", err)
	}

	opts := []globalid.Option{
		globalid.WithDimension(c.vectorSize),
		globalid.WithMetric(metric),
		globalid.WithThreshold(c.threshold),
		globalid.WithTopK(c.topK),
		globalid.WithCacheTTL(c.cacheTTL),
		globalid.WithBackendTimeout(c.backendTimeout),
		globalid.WithCameraScope(c.cameraScope),
		globalid.WithZoneSerialization(c.zoneSerialization),
		globalid.WithRefreshOnHit(c.refreshOnHit),
		globalid.WithResourceController(rc),
		globalid.WithShedLoad(c.shedLoad),
		globalid.WithLogger(logger),
	}
	if topo != nil {
		opts = append(opts, globalid.WithTopology(topo))
	}

	var handlerOpts []server.Option
	handlerOpts = append(handlerOpts, server.WithLogger(logger))
	if c.metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector, err := promcollector.New(reg)
		if err != nil {
			_ = errors.Join(idx.Close(), store.Close())
			return err
		}
		opts = append(opts, globalid.WithMetricsCollector(collector))
		handlerOpts = append(handlerOpts, server.WithGatherer(reg))
	}

	eng, err := globalid.New(ctx, idx, store, opts...)
	if err != nil {
		_ = errors.Join(idx.Close(), store.Close())
		return err
	}

	srv := &http.Server{
		Addr:              c.addr,
		Handler:           server.NewRouter(server.NewHandler(eng, handlerOpts...)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if flatIdx != nil && snapshots != nil {
		g.Go(func() error {
			flatIdx.RunSnapshots(gctx, snapshots, c.snapshotName, c.snapshotInterval)
			return nil
		})
	}
	if s, ok := store.(*sqlite.Store); ok {
		g.Go(func() error {
			s.RunPurge(gctx, c.purgeInterval)
			return nil
		})
	}

	g.Go(func() error {
		logger.InfoContext(gctx, "Starting Global ID service",
			slog.String("addr", c.addr),
			slog.String("index", c.indexBackend),
			slog.String("cache", c.cacheBackend),
			slog.Float64("threshold", eng.Threshold()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down Global ID service")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), c.shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// Background snapshot writers finish before the index is closed.
	if err := eng.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func openSnapshotStore(ctx context.Context, c serveConfig) (blobstore.BlobStore, error) {
	switch c.snapshotStore {
	case "", "none":
		return nil, nil
	case "local":
		return blobstore.NewLocalStore(c.snapshotDir), nil
	case "s3":
		if c.s3Bucket == "" {
			return nil, errors.New("--s3-bucket is required")
		}
		var opts []s3store.Option
		if c.s3Prefix != "" {
			opts = append(opts, s3store.WithPrefix(c.s3Prefix))
		}
		if c.awsRegion != "" {
			opts = append(opts, s3store.WithRegion(c.awsRegion))
		}
		if c.s3Endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(c.s3Endpoint))
		}
		return s3store.New(ctx, c.s3Bucket, opts...)
	case "minio":
		return miniostore.Open(ctx, miniostore.Config{
			Endpoint:     c.minioEndpoint,
			AccessKey:    c.minioAccessKey,
			SecretKey:    c.minioSecretKey,
			Secure:       c.minioSecure,
			Region:       c.awsRegion,
			Bucket:       c.minioBucket,
			Prefix:       c.s3Prefix,
			CreateBucket: true,
		})
	default:
		return nil, fmt.Errorf("unknown snapshot store %q", c.snapshotStore)
	}
}

func loadTopology(ctx context.Context, c serveConfig, snapshots blobstore.BlobStore) (*topology.Topology, error) {
	switch {
	case c.topologyPath != "":
		return topology.LoadFile(c.topologyPath)
	case c.topologyBlob != "":
		if snapshots == nil {
			return nil, errors.New("--topology-blob needs a snapshot store")
		}
		return topology.LoadBlob(ctx, snapshots, c.topologyBlob)
	default:
		return nil, nil
	}
}

// openCache opens the mapping cache. lastID is the largest global ID already
// present in the index; a process-local counter continues after it.
func openCache(ctx context.Context, c serveConfig, lastID uint64, logger *globalid.Logger) (cache.Store, error) {
	opts := []cache.Option{cache.WithLogger(logger.Logger)}

	if c.dynamoTable != "" {
		var loadOpts []func(*config.LoadOptions) error
		if c.awsRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(c.awsRegion))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithCounter(dynamo.NewCounter(dynamodb.NewFromConfig(cfg), c.dynamoTable, "")))
	}

	switch c.cacheBackend {
	case "memory":
		if c.dynamoTable == "" {
			// Qdrant outlives the process, so a counter restarting at zero
			// would hand out IDs that already name stored identities.
			if c.indexBackend == "qdrant" {
				return nil, errors.New("memory cache with the qdrant index needs --dynamo-counter-table")
			}
			opts = append(opts, cache.WithCounter(cache.NewMemoryCounter(lastID)))
		}
		return cache.NewMemory(opts...), nil
	case "redis":
		return redis.Open(ctx, c.redisURL, opts...)
	case "sqlite":
		return sqlite.Open(ctx, c.sqlitePath, opts...)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.cacheBackend)
	}
}

// openIndex returns the index and, for the flat backend, the concrete index so
// the caller can schedule snapshots.
func openIndex(ctx context.Context, c serveConfig, metric distance.Metric, rc *resource.Controller, snapshots blobstore.BlobStore, logger *globalid.Logger) (index.Index, *flat.Index, error) {
	switch c.indexBackend {
	case "qdrant":
		idx, err := qdrant.Dial(qdrant.Config{
			Host:   c.qdrantHost,
			Port:   c.qdrantPort,
			APIKey: c.qdrantAPIKey,
			UseTLS: c.qdrantTLS,
		}, c.qdrantCollection, qdrant.WithMetric(metric), qdrant.WithLogger(logger.Logger))
		if err != nil {
			return nil, nil, err
		}
		return idx, nil, nil
	case "flat":
		idx := flat.New(flat.WithLogger(logger.Logger), flat.WithResources(rc))
		if snapshots != nil {
			err := idx.Restore(ctx, snapshots, c.snapshotName)
			if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
				_ = idx.Close()
				return nil, nil, err
			}
			if err != nil {
				logger.InfoContext(ctx, "No index snapshot found, starting empty", slog.String("name", c.snapshotName))
			}
		}
		return idx, idx, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", c.indexBackend)
	}
}
