// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("globalid/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	_, err = idx.Snapshot(ctx, store, "index.gidx")
//
// Puts go through the multipart upload manager so large snapshots are split
// into parts automatically. Listing follows continuation tokens.
package s3
