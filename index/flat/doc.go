// Package flat provides an in-process exact vector index.
//
// Every search scans the candidate set produced by the filter, so results are
// exact and deterministic. Filters are resolved through roaring posting lists
// keyed by (field, value) for string payload fields.
//
// The index can be snapshotted to and restored from any blobstore.BlobStore.
// Snapshots are checksummed (CRC32C) and optionally compressed (LZ4/ZSTD).
//
//	idx := flat.New(flat.WithCompression(compress.ZSTD))
//	if err := idx.Restore(ctx, store, "index.snap"); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
//	    return err
//	}
//	go idx.RunSnapshots(ctx, store, "index.snap", time.Minute)
package flat
