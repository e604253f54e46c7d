package topology

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every load failure.
var ErrInvalidConfig = errors.New("topology: invalid configuration")

// ConfigError describes why a topology document was rejected.
type ConfigError struct {
	// Source names the file or blob the document came from, if known.
	Source string
	// Zone is the offending zone, if the problem is zone-local.
	Zone   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "topology"
	if e.Source != "" {
		msg += " " + e.Source
	}
	if e.Zone != "" {
		msg += fmt.Sprintf(" (zone %q)", e.Zone)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrInvalidConfig and the underlying cause.
func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidConfig, e.Err}
	}
	return []error{ErrInvalidConfig}
}

func configErrorf(zone, format string, args ...any) *ConfigError {
	return &ConfigError{Zone: zone, Reason: fmt.Sprintf(format, args...)}
}
