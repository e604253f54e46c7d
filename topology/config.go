package topology

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the declarative topology document.
type Config struct {
	Zones []ZoneConfig `yaml:"zones" json:"zones"`
}

// ZoneConfig declares one zone with its cameras and outgoing transitions.
type ZoneConfig struct {
	Name        string         `yaml:"name" json:"name"`
	Cameras     []CameraConfig `yaml:"cameras" json:"cameras"`
	Transitions []Transition   `yaml:"transitions,omitempty" json:"transitions,omitempty"`
}

// CameraConfig declares a camera and its stream URI.
type CameraConfig struct {
	ID  string `yaml:"id" json:"id"`
	URI string `yaml:"uri" json:"uri"`
}

// Transition is a directed weighted edge, written as a [from, to, weight]
// triple in YAML.
type Transition struct {
	From   string
	To     string
	Weight float64
}

// UnmarshalYAML decodes the [from, to, weight] triple form.
func (t *Transition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode || len(node.Content) != 3 {
		return fmt.Errorf("line %d: transition must be a [from, to, weight] triple", node.Line)
	}
	if err := node.Content[0].Decode(&t.From); err != nil {
		return fmt.Errorf("line %d: transition source: %w", node.Line, err)
	}
	if err := node.Content[1].Decode(&t.To); err != nil {
		return fmt.Errorf("line %d: transition target: %w", node.Line, err)
	}
	if err := node.Content[2].Decode(&t.Weight); err != nil {
		return fmt.Errorf("line %d: transition weight: %w", node.Line, err)
	}
	return nil
}

// MarshalYAML emits the compact triple form.
func (t Transition) MarshalYAML() (any, error) {
	return []any{t.From, t.To, t.Weight}, nil
}
