// Package blobstore provides the storage abstraction for topology documents
// and vector index snapshots.
//
// # Built-in Implementations
//
//   - LocalStore: local file system, atomic writes via rename
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 (aws-sdk-go-v2)
//   - minio.Store: MinIO and other S3-compatible servers
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Get(ctx, name) ([]byte, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
