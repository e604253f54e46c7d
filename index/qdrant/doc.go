// Package qdrant implements index.Index on a Qdrant collection over gRPC,
// using github.com/qdrant/go-client.
//
//	idx, err := qdrant.Dial(qdrant.Config{
//	    Host:   "localhost",
//	    Port:   6334,
//	    APIKey: os.Getenv("QDRANT_API_KEY"),
//	}, "global_id_embeddings")
//	err = idx.EnsureCollection(ctx, 256, distance.MetricCosine)
//
// Filters are sent as a "must" list of keyword matches. Euclid scores,
// which Qdrant reports as distances, are mapped to 1/(1+d) so that higher is
// always more similar. Unavailable, DeadlineExceeded and similar status codes
// surface as index.ErrUnavailable; NotFound as index.ErrCollectionMissing.
package qdrant
