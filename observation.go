package globalid

import (
	"fmt"
	"math"
	"strings"
)

// Observation is one sighting of a local track.
type Observation struct {
	CameraID  string
	TrackID   string
	Embedding []float32
	// Timestamp is in seconds since the epoch.
	Timestamp float64
	// Zone is optional. When empty it is derived from the topology.
	Zone string
}

func (o Observation) validate(dim int) error {
	switch {
	case o.CameraID == "":
		return fmt.Errorf("%w: empty camera ID", ErrInvalidObservation)
	case strings.Contains(o.CameraID, ":"):
		// Cache keys split camera from track at the first colon.
		return fmt.Errorf("%w: camera ID %q contains ':'", ErrInvalidObservation, o.CameraID)
	case o.TrackID == "":
		return fmt.Errorf("%w: empty track ID", ErrInvalidObservation)
	case len(o.Embedding) == 0:
		return fmt.Errorf("%w: empty embedding", ErrInvalidObservation)
	case dim > 0 && len(o.Embedding) != dim:
		return fmt.Errorf("%w: embedding has %d dimensions, want %d", ErrInvalidObservation, len(o.Embedding), dim)
	case math.IsNaN(o.Timestamp) || math.IsInf(o.Timestamp, 0):
		return fmt.Errorf("%w: timestamp %v", ErrInvalidObservation, o.Timestamp)
	}
	for i, v := range o.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: embedding[%d] is %v", ErrInvalidObservation, i, v)
		}
	}
	return nil
}
