// Package matcher decides whether an embedding belongs to an existing global
// identity.
//
// The matcher runs one top-K search and looks only at the best candidate. A
// candidate whose score is at least the threshold is a match; nothing else
// about the ranking is considered.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/hupe1980/globalid/index"
)

const (
	// DefaultThreshold is the minimum similarity for a match.
	DefaultThreshold = 0.90
	// DefaultTopK is the number of candidates requested from the index.
	DefaultTopK = 5
)

// ErrInvalidThreshold is returned for thresholds outside (0, 1].
var ErrInvalidThreshold = errors.New("matcher: threshold must be in (0, 1]")

// Scope restricts the search. Empty fields do not filter.
type Scope struct {
	Zone   string
	Camera string
}

func (s Scope) filter() index.Filter {
	if s.Zone == "" && s.Camera == "" {
		return nil
	}
	f := make(index.Filter, 2)
	if s.Zone != "" {
		f[index.FieldZone] = s.Zone
	}
	if s.Camera != "" {
		f[index.FieldCamera] = s.Camera
	}
	return f
}

// Match is the accepted candidate.
type Match struct {
	GlobalID uint64
	Score    float32
	Payload  index.Payload
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithThreshold sets the match threshold. It must lie in (0, 1].
func WithThreshold(t float64) Option {
	return func(m *Matcher) { m.threshold = t }
}

// WithTopK sets how many candidates are requested from the index.
func WithTopK(k int) Option {
	return func(m *Matcher) { m.topK = k }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// Matcher compares embeddings against an index.
type Matcher struct {
	idx       index.Index
	threshold float64
	topK      int
	logger    *slog.Logger
}

// New creates a matcher over idx.
func New(idx index.Index, optFns ...Option) (*Matcher, error) {
	m := &Matcher{
		idx:       idx,
		threshold: DefaultThreshold,
		topK:      DefaultTopK,
	}
	for _, fn := range optFns {
		fn(m)
	}

	if math.IsNaN(m.threshold) || m.threshold <= 0 || m.threshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, m.threshold)
	}
	if m.topK <= 0 {
		return nil, fmt.Errorf("%w: top-k %d", index.ErrInvalidK, m.topK)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m, nil
}

// Threshold returns the configured threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match searches idx within scope and reports the best candidate if its score
// reaches the threshold. Index failures are returned as errors, never as a
// miss.
//
// Scores are compared at the index's float32 precision, so a candidate that
// scores exactly the threshold matches.
func (m *Matcher) Match(ctx context.Context, vector []float32, scope Scope) (Match, bool, error) {
	results, err := m.idx.Search(ctx, vector, m.topK, scope.filter())
	if err != nil {
		return Match{}, false, err
	}
	if len(results) == 0 {
		m.logger.DebugContext(ctx, "No candidates", slog.String("zone", scope.Zone), slog.String("camera", scope.Camera))
		return Match{}, false, nil
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.Score > best.Score {
			best = r
		}
	}

	if best.Score >= float32(m.threshold) {
		m.logger.DebugContext(ctx, "Match found",
			slog.Uint64("global_id", best.ID),
			slog.Float64("score", float64(best.Score)),
		)
		return Match{GlobalID: best.ID, Score: best.Score, Payload: best.Payload}, true, nil
	}

	m.logger.DebugContext(ctx, "Best candidate below threshold",
		slog.Uint64("global_id", best.ID),
		slog.Float64("score", float64(best.Score)),
		slog.Float64("threshold", m.threshold),
	)
	return Match{}, false, nil
}
