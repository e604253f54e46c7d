// Package testutil provides testing utilities for globalid.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating embeddings with a chosen similarity to
// a reference and for computing exact top-K results.
//
// # Random Embeddings
//
//	rng := testutil.NewRNG(seed)
//	base := rng.UnitVector(256)
//	near := rng.SimilarVector(base, 0.95) // cosine 0.95 to base
//
// # Exact Search (Ground Truth)
//
//	results := testutil.ExactTopK(query, points, k, distance.MetricCosine)
package testutil
