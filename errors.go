package globalid

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/globalid/cache"
	"github.com/hupe1980/globalid/index"
	"github.com/hupe1980/globalid/matcher"
	"github.com/hupe1980/globalid/resource"
	"github.com/hupe1980/globalid/topology"
)

var (
	// ErrConfiguration is returned for invalid settings and for an index
	// collection that is incompatible with them.
	ErrConfiguration = errors.New("configuration error")

	// ErrBackendUnavailable is returned when the index or cache cannot be
	// reached or does not answer in time. Callers may retry.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrAssignmentFailed is matched by every *AssignmentError.
	ErrAssignmentFailed = errors.New("global ID assignment failed")

	// ErrInvalidObservation is returned for observations that cannot be
	// resolved as submitted.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// Step names the resolution step that failed.
type Step string

const (
	StepAdmit    Step = "admit"
	StepLock     Step = "lock"
	StepLookup   Step = "lookup"
	StepMatch    Step = "match"
	StepAllocate Step = "allocate"
	StepUpsert   Step = "upsert"
	StepRecord   Step = "record"
)

// AssignmentError reports that no global ID was assigned to an observation.
//
// The original underlying error can be accessed via errors.Unwrap.
type AssignmentError struct {
	CameraID string
	TrackID  string
	Step     Step
	cause    error
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("global ID assignment failed for %s:%s at %s: %v", e.CameraID, e.TrackID, e.Step, e.cause)
}

// Unwrap returns ErrAssignmentFailed and the cause.
func (e *AssignmentError) Unwrap() []error {
	return []error{ErrAssignmentFailed, e.cause}
}

func assignmentError(obs Observation, step Step, err error) error {
	return &AssignmentError{
		CameraID: obs.CameraID,
		TrackID:  obs.TrackID,
		Step:     step,
		cause:    translateError(err),
	}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Transport faults and timeouts.
	if errors.Is(err, index.ErrUnavailable) ||
		errors.Is(err, cache.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, resource.ErrOverloaded) {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	// Settings that cannot work against the backends.
	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	var mm *index.ErrMetricMismatch
	if errors.As(err, &mm) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if errors.Is(err, index.ErrCollectionMissing) ||
		errors.Is(err, index.ErrInvalidK) ||
		errors.Is(err, matcher.ErrInvalidThreshold) ||
		errors.Is(err, topology.ErrInvalidConfig) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return err
}
