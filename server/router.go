// Package server exposes the resolution engine over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/globalid"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs request details and latency.
func loggingMiddleware(logger *globalid.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.DebugContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}

// corsMiddleware allows any origin; dashboards are served from elsewhere.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter creates and configures the HTTP router.
func NewRouter(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	r.Use(loggingMiddleware(handler.logger))
	r.Use(corsMiddleware)

	r.HandleFunc("/assign_id", handler.HandleAssign).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/global_ids", handler.HandleGlobalIDs).Methods(http.MethodGet)
	r.HandleFunc("/api/track_ids/{global_id}", handler.HandleTrackIDs).Methods(http.MethodGet)
	r.HandleFunc("/api/zones", handler.HandleZones).Methods(http.MethodGet)
	r.HandleFunc("/api/transitions/{camera_id}", handler.HandleTransitions).Methods(http.MethodGet)
	r.HandleFunc("/api/health", handler.HandleHealth).Methods(http.MethodGet)

	if handler.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(handler.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return r
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(l *globalid.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithGatherer mounts /metrics for the given registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

// WithClock overrides the clock used by the health endpoint.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}
