// Package globalid resolves per-camera tracks into global identities.
//
// Every camera pipeline reports observations: a camera ID, the tracker's local
// track ID, an appearance embedding, a timestamp and optionally a zone. The
// Engine maps each observation onto a positive integer that stays the same
// while the physical entity moves between cameras.
//
// # Quick Start
//
//	idx := flat.New()
//	store := cache.NewMemory()
//	eng, _ := globalid.New(ctx, idx, store,
//	    globalid.WithDimension(256),
//	    globalid.WithThreshold(0.90),
//	)
//	defer eng.Close()
//
//	gid, err := eng.Resolve(ctx, globalid.Observation{
//	    CameraID:  "camA",
//	    TrackID:   "7",
//	    Embedding: emb,
//	    Timestamp: 1718000000,
//	    Zone:      "zone1",
//	})
//
// # Resolution
//
// Resolve runs these steps for one observation:
//
//  1. A live cache entry for (camera, track) is returned as is.
//  2. Otherwise the matcher searches the index, scoped to the zone, and
//     adopts the best candidate if it reaches the threshold.
//  3. Without a match a new ID is drawn from the shared counter.
//  4. The identity's embedding and metadata are upserted into the index.
//  5. The cache entry is written and the track is appended to the identity's
//     history.
//
// Steps 1 to 5 run under a per-(camera, track) lock, so two concurrent
// observations of the same track never allocate two identities. Zone-wide
// serialization is available with WithZoneSerialization.
//
// # Errors
//
// Failures are reported as *AssignmentError, which matches
// ErrAssignmentFailed and, for transport faults and timeouts,
// ErrBackendUnavailable. The engine never retries.
//
// # Backends
//
//   - Index: index/flat (in-process, snapshots to a blobstore) or index/qdrant.
//   - Cache: cache.Memory, cache/redis or cache/sqlite; the counter may come
//     from cache/dynamo.
package globalid
