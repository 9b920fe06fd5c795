package fmatrix

import (
	"math"
	"math/rand"
	"time"
)

// Sampler drives the estimation loop by supplying minimal subsets.
// Next returns k distinct indices in [0, n), or false when the budget is spent.
type Sampler interface {
	Next(n, k int) ([]int, bool)
}

// AdaptiveSampleCount returns the number of random k-subsets needed so that,
// with the given confidence, at least one of them is outlier-free when a
// fraction outlierFrac of the data are outliers. The result is clamped to [1, limit].
func AdaptiveSampleCount(confidence, outlierFrac float64, k, limit int) int {
	if limit < 1 {
		limit = 1
	}
	if confidence <= 0 || confidence >= 1 || outlierFrac < 0 || outlierFrac >= 1 {
		return limit
	}
	good := math.Pow(1-outlierFrac, float64(k))
	if good <= 0 {
		return limit
	}
	if good >= 1 {
		return 1
	}
	m := math.Ceil(math.Log(1-confidence) / math.Log(1-good))
	if math.IsNaN(m) || m > float64(limit) {
		return limit
	}
	if m < 1 {
		return 1
	}
	return int(m)
}

// RandomSampler draws uniformly random subsets until its budget is spent
type RandomSampler struct {
	cfg   SamplingConfig
	rng   *rand.Rand
	drawn int
}

// NewRandomSampler creates a sampler from the sampling configuration.
// A zero seed selects a time-based seed.
func NewRandomSampler(cfg SamplingConfig) *RandomSampler {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomSampler{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Budget returns the number of subsets the sampler will hand out for subset size k
func (s *RandomSampler) Budget(k int) int {
	if !s.cfg.Adaptive {
		if s.cfg.MaxSamples < 1 {
			return 1
		}
		return s.cfg.MaxSamples
	}
	return AdaptiveSampleCount(s.cfg.Confidence, s.cfg.OutlierFraction, k, s.cfg.MaxSamples)
}

// Drawn returns how many subsets have been handed out
func (s *RandomSampler) Drawn() int {
	return s.drawn
}

// Reset restores the full budget without reseeding
func (s *RandomSampler) Reset() {
	s.drawn = 0
}

// Next implements Sampler
func (s *RandomSampler) Next(n, k int) ([]int, bool) {
	if k <= 0 || n < k || s.drawn >= s.Budget(k) {
		return nil, false
	}
	s.drawn++
	return sampleDistinct(s.rng, n, k), true
}

// sampleDistinct picks k distinct indices from [0, n) using Floyd's algorithm
func sampleDistinct(rng *rand.Rand, n, k int) []int {
	chosen := make(map[int]struct{}, k)
	out := make([]int, 0, k)
	for j := n - k; j < n; j++ {
		t := rng.Intn(j + 1)
		if _, dup := chosen[t]; dup {
			t = j
		}
		chosen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// SequenceSampler replays a fixed list of subsets in order.
// It makes runs reproducible and lets tests control generation order.
type SequenceSampler struct {
	Subsets [][]int
	pos     int
}

// NewSequenceSampler creates a sampler that returns subsets in the given order
func NewSequenceSampler(subsets ...[]int) *SequenceSampler {
	return &SequenceSampler{Subsets: subsets}
}

// Next implements Sampler. Subsets of the wrong size or with
// out-of-range indices are skipped.
func (s *SequenceSampler) Next(n, k int) ([]int, bool) {
	for s.pos < len(s.Subsets) {
		sub := s.Subsets[s.pos]
		s.pos++
		if len(sub) != k || !indicesInRange(sub, n) {
			continue
		}
		out := make([]int, k)
		copy(out, sub)
		return out, true
	}
	return nil, false
}

// Reset rewinds the sampler to the first subset
func (s *SequenceSampler) Reset() {
	s.pos = 0
}

func indicesInRange(idx []int, n int) bool {
	for _, i := range idx {
		if i < 0 || i >= n {
			return false
		}
	}
	return true
}
