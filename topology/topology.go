package topology

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/globalid/blobstore"
	"gopkg.in/yaml.v3"
)

// Edge is an outgoing transition from a camera.
type Edge struct {
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
	// Synthesized marks reverse edges that were not declared.
	Synthesized bool `json:"synthesized,omitempty"`
}

// Topology is the immutable camera graph.
type Topology struct {
	zones       []string
	zoneCameras map[string][]string
	cameraZone  map[string]string
	cameraURI   map[string]string
	cameras     []string
	edges       map[string][]Edge
	cumulative  map[string][]float64

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Topology.
type Option func(*options)

type options struct {
	rng    *rand.Rand
	source string
}

// WithRand sets the random source used by SampleNext.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithSeed pins SampleNext to a deterministic sequence.
func WithSeed(seed int64) Option {
	return func(o *options) { o.rng = rand.New(rand.NewSource(seed)) }
}

func withSource(name string) Option {
	return func(o *options) { o.source = name }
}

// Load parses a YAML document from r.
func Load(r io.Reader, optFns ...Option) (*Topology, error) {
	o := applyOptions(optFns)

	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigError{Source: o.source, Reason: "empty document"}
		}
		return nil, &ConfigError{Source: o.source, Reason: "parse", Err: err}
	}

	return build(cfg, o)
}

// LoadFile reads and parses the document at path.
func LoadFile(path string, optFns ...Option) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Reason: "open", Err: err}
	}
	defer func() { _ = f.Close() }()

	return Load(f, append(optFns, withSource(path))...)
}

// LoadBlob reads the document from a blob store.
func LoadBlob(ctx context.Context, store blobstore.BlobStore, name string, optFns ...Option) (*Topology, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return nil, &ConfigError{Source: name, Reason: "read blob", Err: err}
	}
	return Load(bytes.NewReader(data), append(optFns, withSource(name))...)
}

// New builds a topology from an in-memory document.
func New(cfg Config, optFns ...Option) (*Topology, error) {
	return build(cfg, applyOptions(optFns))
}

func applyOptions(optFns []Option) options {
	var o options
	for _, fn := range optFns {
		fn(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

func build(cfg Config, o options) (*Topology, error) {
	t, err := compile(cfg)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) && ce.Source == "" {
			ce.Source = o.source
		}
		return nil, err
	}
	t.rng = o.rng
	return t, nil
}

func compile(cfg Config) (*Topology, error) {
	if len(cfg.Zones) == 0 {
		return nil, configErrorf("", "no zones declared")
	}

	t := &Topology{
		zoneCameras: make(map[string][]string),
		cameraZone:  make(map[string]string),
		cameraURI:   make(map[string]string),
		edges:       make(map[string][]Edge),
		cumulative:  make(map[string][]float64),
	}

	for _, z := range cfg.Zones {
		if z.Name == "" {
			return nil, configErrorf("", "zone without name")
		}
		if _, dup := t.zoneCameras[z.Name]; dup {
			return nil, configErrorf(z.Name, "duplicate zone")
		}
		t.zones = append(t.zones, z.Name)
		t.zoneCameras[z.Name] = nil

		for _, c := range z.Cameras {
			if c.ID == "" {
				return nil, configErrorf(z.Name, "camera without id")
			}
			if c.URI == "" {
				return nil, configErrorf(z.Name, "camera %q without uri", c.ID)
			}
			if other, dup := t.cameraZone[c.ID]; dup {
				return nil, configErrorf(z.Name, "camera %q already declared in zone %q", c.ID, other)
			}
			t.cameraZone[c.ID] = z.Name
			t.cameraURI[c.ID] = c.URI
			t.cameras = append(t.cameras, c.ID)
			t.zoneCameras[z.Name] = append(t.zoneCameras[z.Name], c.ID)
		}
	}

	// Transitions may reference cameras of later zones, so they are checked
	// after every camera is known.
	type pair struct{ from, to string }
	declared := make(map[pair]bool)
	var order []Transition

	for _, z := range cfg.Zones {
		for _, tr := range z.Transitions {
			if _, ok := t.cameraZone[tr.From]; !ok {
				return nil, configErrorf(z.Name, "transition from unknown camera %q", tr.From)
			}
			if _, ok := t.cameraZone[tr.To]; !ok {
				return nil, configErrorf(z.Name, "transition to unknown camera %q", tr.To)
			}
			if math.IsNaN(tr.Weight) || tr.Weight < 0 || tr.Weight > 1 {
				return nil, configErrorf(z.Name, "transition %s->%s weight %v outside [0,1]", tr.From, tr.To, tr.Weight)
			}
			p := pair{tr.From, tr.To}
			if declared[p] {
				return nil, configErrorf(z.Name, "duplicate transition %s->%s", tr.From, tr.To)
			}
			declared[p] = true
			order = append(order, tr)
			t.edges[tr.From] = append(t.edges[tr.From], Edge{To: tr.To, Weight: tr.Weight})
		}
	}

	for _, tr := range order {
		if t.hasEdge(tr.To, tr.From) {
			continue
		}
		t.edges[tr.To] = append(t.edges[tr.To], Edge{
			To:          tr.From,
			Weight:      reverseWeight(tr.Weight),
			Synthesized: true,
		})
	}

	for cam, edges := range t.edges {
		cum := make([]float64, len(edges))
		var total float64
		for i, e := range edges {
			total += e.Weight
			cum[i] = total
		}
		t.cumulative[cam] = cum
	}

	return t, nil
}

func (t *Topology) hasEdge(from, to string) bool {
	for _, e := range t.edges[from] {
		if e.To == to {
			return true
		}
	}
	return false
}

func reverseWeight(w float64) float64 {
	r := math.Round((1-w)*100) / 100
	return min(max(r, 0), 1)
}

// ZoneOf returns the zone a camera belongs to.
func (t *Topology) ZoneOf(cameraID string) (string, bool) {
	z, ok := t.cameraZone[cameraID]
	return z, ok
}

// URIOf returns the stream URI of a camera.
func (t *Topology) URIOf(cameraID string) (string, bool) {
	u, ok := t.cameraURI[cameraID]
	return u, ok
}

// TransitionsFrom returns the outgoing edges of a camera: declared edges in
// declaration order, then synthesized ones. The slice is a copy.
func (t *Topology) TransitionsFrom(cameraID string) []Edge {
	edges := t.edges[cameraID]
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

// SampleNext draws a successor camera with probability proportional to the
// edge weights. It reports false when the camera has no edge with positive
// weight.
func (t *Topology) SampleNext(cameraID string) (string, bool) {
	cum := t.cumulative[cameraID]
	if len(cum) == 0 || cum[len(cum)-1] <= 0 {
		return "", false
	}
	total := cum[len(cum)-1]

	t.mu.Lock()
	x := t.rng.Float64() * total
	t.mu.Unlock()

	i := sort.Search(len(cum), func(i int) bool { return cum[i] > x })
	if i == len(cum) {
		i = len(cum) - 1
	}
	return t.edges[cameraID][i].To, true
}

// Cameras returns every camera id in declaration order.
func (t *Topology) Cameras() []string {
	return append([]string(nil), t.cameras...)
}

// Zones returns every zone name in declaration order.
func (t *Topology) Zones() []string {
	return append([]string(nil), t.zones...)
}

// CamerasInZone returns the cameras of a zone in declaration order.
func (t *Topology) CamerasInZone(zone string) []string {
	return append([]string(nil), t.zoneCameras[zone]...)
}

// Config reconstructs the declared document. Synthesized edges are omitted
// and each transition is listed under the zone of its source camera.
func (t *Topology) Config() Config {
	var cfg Config
	for _, z := range t.zones {
		zc := ZoneConfig{Name: z}
		for _, cam := range t.zoneCameras[z] {
			zc.Cameras = append(zc.Cameras, CameraConfig{ID: cam, URI: t.cameraURI[cam]})
			for _, e := range t.edges[cam] {
				if !e.Synthesized {
					zc.Transitions = append(zc.Transitions, Transition{From: cam, To: e.To, Weight: e.Weight})
				}
			}
		}
		cfg.Zones = append(cfg.Zones, zc)
	}
	return cfg
}
