// Package minio stores topology documents and index snapshots in a MinIO
// bucket, or any other S3-compatible server, without the AWS SDK.
//
//	store, err := minio.Open(ctx, minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "globalid",
//	    Prefix:    "site-a/",
//	})
//	topo, err := topology.LoadBlob(ctx, store, "topology.yaml")
package minio
