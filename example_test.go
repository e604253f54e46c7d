package globalid_test

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/hupe1980/globalid"
	"github.com/hupe1980/globalid/cache"
	"github.com/hupe1980/globalid/index/flat"
	"github.com/hupe1980/globalid/topology"
)

// Example resolves three sightings: the same person on two cameras and a
// stranger.
func Example() {
	ctx := context.Background()

	eng, err := globalid.New(ctx, flat.New(), cache.NewMemory(), globalid.WithDimension(3))
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	first, _ := eng.Resolve(ctx, globalid.Observation{CameraID: "camA", TrackID: "7", Embedding: []float32{1, 0, 0}, Timestamp: 100})
	again, _ := eng.Resolve(ctx, globalid.Observation{CameraID: "camB", TrackID: "3", Embedding: []float32{0.99, 0.1, 0}, Timestamp: 101})
	other, _ := eng.Resolve(ctx, globalid.Observation{CameraID: "camB", TrackID: "4", Embedding: []float32{0, 1, 0}, Timestamp: 102})

	fmt.Println(first, again, other)
	// Output: 1 1 2
}

// Example_topology scopes matching to the zone a camera belongs to.
func Example_topology() {
	ctx := context.Background()

	topo, err := topology.Load(strings.NewReader(`
zones:
  - name: lobby
    cameras:
      - {id: cam1, uri: "rtsp://10.0.0.1/stream"}
  - name: garage
    cameras:
      - {id: cam2, uri: "rtsp://10.0.0.2/stream"}
`))
	if err != nil {
		log.Fatal(err)
	}

	eng, err := globalid.New(ctx, flat.New(), cache.NewMemory(),
		globalid.WithDimension(2),
		globalid.WithTopology(topo),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	emb := []float32{1, 0}
	lobby, _ := eng.Resolve(ctx, globalid.Observation{CameraID: "cam1", TrackID: "1", Embedding: emb, Timestamp: 1})
	garage, _ := eng.Resolve(ctx, globalid.Observation{CameraID: "cam2", TrackID: "1", Embedding: emb, Timestamp: 2})

	fmt.Println(lobby, garage)
	// Output: 1 2
}
