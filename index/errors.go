package index

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the index cannot be reached or fails.
	ErrUnavailable = errors.New("index unavailable")

	// ErrCollectionMissing is returned when an operation needs a collection
	// that EnsureCollection has not created.
	ErrCollectionMissing = errors.New("index collection missing")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("index closed")
)

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrMetricMismatch is returned when an existing collection uses a different
// distance metric.
type ErrMetricMismatch struct {
	Expected string
	Actual   string
}

func (e *ErrMetricMismatch) Error() string {
	return fmt.Sprintf("metric mismatch: expected %s, got %s", e.Expected, e.Actual)
}
