package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("cache unavailable")

	// ErrMalformedValue is returned when a stored mapping cannot be decoded.
	ErrMalformedValue = errors.New("malformed cache value")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache closed")
)

// MalformedValueError describes a stored value that is neither a JSON record
// nor a legacy integer.
type MalformedValueError struct {
	Key   string
	Value string
	Err   error
}

func (e *MalformedValueError) Error() string {
	v := e.Value
	if len(v) > 64 {
		v = v[:64] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("malformed cache value at %q (%q): %v", e.Key, v, e.Err)
	}
	return fmt.Sprintf("malformed cache value at %q (%q)", e.Key, v)
}

// Unwrap returns ErrMalformedValue and the decode error, if any.
func (e *MalformedValueError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedValue}
	}
	return []error{ErrMalformedValue, e.Err}
}

// Unavailable wraps a backend error so that errors.Is(err, ErrUnavailable)
// holds. It returns nil for a nil error.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
