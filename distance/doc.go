// Package distance provides vector similarity for embedding comparison.
//
// # Supported Metrics
//
//   - MetricCosine: cosine similarity (default)
//   - MetricDot: inner product
//   - MetricEuclidean: 1/(1+‖a-b‖)
//
// All scores share one convention: higher means more similar, so a single
// match threshold can be applied regardless of metric.
//
// # Usage
//
//	sim := distance.Similarity(distance.MetricCosine, a, b)
//	unit, ok := distance.NormalizeL2Copy(vec)
package distance
