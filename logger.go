package globalid

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with resolver-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps the usual level names (DEBUG, INFO, WARN/WARNING, ERROR)
// to slog levels. Unknown names yield Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithService adds a service field to the logger.
func (l *Logger) WithService(name string) *Logger {
	return &Logger{Logger: l.Logger.With("service", name)}
}

// WithCamera adds camera and track fields to the logger.
func (l *Logger) WithCamera(cameraID, trackID string) *Logger {
	return &Logger{Logger: l.Logger.With("camera_id", cameraID, "track_id", trackID)}
}

// LogResolve logs the outcome of one resolution.
func (l *Logger) LogResolve(ctx context.Context, obs Observation, globalID uint64, outcome Outcome, err error) {
	cl := l.WithCamera(obs.CameraID, obs.TrackID)
	if err != nil {
		cl.ErrorContext(ctx, "resolve failed", "error", err)
		return
	}
	cl.DebugContext(ctx, "resolve completed",
		"global_id", globalID,
		"outcome", string(outcome),
	)
}

// LogAllocate logs a newly allocated identity.
func (l *Logger) LogAllocate(ctx context.Context, obs Observation, globalID uint64) {
	l.WithCamera(obs.CameraID, obs.TrackID).InfoContext(ctx, "new global identity",
		"global_id", globalID,
		"zone", obs.Zone,
	)
}

// LogMalformedCache logs a cache value that was ignored.
func (l *Logger) LogMalformedCache(ctx context.Context, obs Observation, err error) {
	l.WithCamera(obs.CameraID, obs.TrackID).WarnContext(ctx, "ignoring malformed cache value", "error", err)
}
