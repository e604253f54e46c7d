// Package codec centralizes the JSON encoding used for cache records, index
// snapshots and the Qdrant wire format.
//
// Snapshots record the codec name in their header, so changing Default does
// not break restoring older snapshots. Both codecs produce byte-compatible
// JSON for the record types in this module.
package codec

import (
	"encoding/json"
	"fmt"

	gojson "github.com/goccy/go-json"
)

// Codec encodes and decodes values. Implementations must be safe for
// concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSON is the encoding/json codec. It is kept so snapshots written with it
// can still be restored.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                       { return "json" }

// GoJSON is backed by github.com/goccy/go-json and is the default.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
func (GoJSON) Name() string                       { return "go-json" }

// Default is the codec used for newly written cache values and snapshots.
var Default Codec = GoJSON{}

var byName = map[string]Codec{
	JSON{}.Name():   JSON{},
	GoJSON{}.Name(): GoJSON{},
}

// ByName returns a built-in codec by the name stored in a snapshot header.
func ByName(name string) (Codec, bool) {
	c, ok := byName[name]
	return c, ok
}

// MustMarshal encodes v with c, or Default when c is nil. It panics on error
// and is meant for tests and constant fixtures.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s: marshal: %w", c.Name(), err))
	}
	return b
}
