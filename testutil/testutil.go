package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/globalid/distance"
)

// SearchResult represents a search result.
type SearchResult struct {
	ID    uint64
	Score float32
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// UnitVector generates a single L2-normalized random vector.
func (r *RNG) UnitVector(dimensions int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unitVectorLocked(dimensions)
}

func (r *RNG) unitVectorLocked(dimensions int) []float32 {
	vec := make([]float32, dimensions)
	for j := range vec {
		vec[j] = float32(r.rand.NormFloat64())
	}
	if !distance.NormalizeL2InPlace(vec) {
		vec[0] = 1
	}
	return vec
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere).
// Uses Gaussian distribution for uniform distribution on the sphere.
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		vectors[i] = r.unitVectorLocked(dimensions)
	}
	return vectors
}

// SimilarVector returns a unit vector whose cosine similarity to base is
// cos. base must be a unit vector of at least two dimensions.
func (r *RNG) SimilarVector(base []float32, cos float64) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Gram-Schmidt: a random direction orthogonal to base.
	var orth []float32
	for {
		orth = r.unitVectorLocked(len(base))
		d := distance.Dot(orth, base)
		for i := range orth {
			orth[i] -= d * base[i]
		}
		if distance.NormalizeL2InPlace(orth) {
			break
		}
	}

	sin := math.Sqrt(math.Max(0, 1-cos*cos))
	out := make([]float32, len(base))
	for i := range out {
		out[i] = float32(cos*float64(base[i]) + sin*float64(orth[i]))
	}
	return out
}

// ExactTopK scores every point against query with metric and returns the k
// best, highest score first. Ties are ordered by ascending ID.
func ExactTopK(query []float32, points map[uint64][]float32, k int, metric distance.Metric) []SearchResult {
	res := make([]SearchResult, 0, len(points))
	for id, v := range points {
		res = append(res, SearchResult{ID: id, Score: distance.Similarity(metric, query, v)})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Score != res[j].Score {
			return res[i].Score > res[j].Score
		}
		return res[i].ID < res[j].ID
	})
	if len(res) > k {
		res = res[:k]
	}
	return res
}

// ComputeRecall computes recall@k by comparing results against ground truth.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[uint64]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, r := range approximate[:k] {
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}
