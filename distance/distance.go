// Package distance provides the vector similarity functions used to compare
// appearance embeddings.
package distance

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricCosine Metric = iota
	MetricDot
	MetricEuclidean
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "Cosine"
	case MetricDot:
		return "Dot"
	case MetricEuclidean:
		return "Euclidean"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// ParseMetric maps a metric name to a Metric. Names are matched
// case-insensitively; "L2" and "Euclid" are accepted for Euclidean.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cosine", "":
		return MetricCosine, nil
	case "dot":
		return MetricDot, nil
	case "euclidean", "euclid", "l2":
		return MetricEuclidean, nil
	default:
		return 0, fmt.Errorf("unsupported metric: %q", name)
	}
}

// Similarity scores b against a under metric m. Higher is always more similar.
//
// Cosine expects neither vector to be zero; a zero vector scores 0.
// Euclidean similarity is 1/(1+d), so identical vectors score 1.
func Similarity(m Metric, a, b []float32) float32 {
	switch m {
	case MetricDot:
		return Dot(a, b)
	case MetricEuclidean:
		return EuclideanSimilarity(float32(math.Sqrt(float64(SquaredL2(a, b)))))
	default:
		na := Dot(a, a)
		nb := Dot(b, b)
		if na == 0 || nb == 0 {
			return 0
		}
		return Dot(a, b) / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
	}
}

// EuclideanSimilarity converts a Euclidean distance into a similarity in (0, 1].
func EuclideanSimilarity(d float32) float32 {
	return 1 / (1 + d)
}
