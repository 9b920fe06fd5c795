package fmatrix

import (
	"math"
	"sort"
)

const (
	// DefaultInlierSigma is the number of robust standard deviations within
	// which a correspondence counts as an inlier.
	DefaultInlierSigma = 2.5

	// madToSigma converts a median absolute residual into a Gaussian standard deviation.
	madToSigma = 1.4826
)

// RobustScorer reduces a residual vector to a single cost and partitions
// the correspondences once a winner has been chosen
type RobustScorer interface {
	// Score returns the robust cost of a residual vector. Lower is better.
	Score(residuals []float64) float64
	// Classify flags each residual as inlier or outlier relative to cost.
	// It returns the mask, the inlier count, and the threshold applied.
	Classify(residuals []float64, cost float64, sampleSize int) ([]bool, int, float64)
}

// MedianScorer implements least-median-of-squares scoring.
// Squared must match the residual evaluator: when false the residuals are
// plain distances and the median is squared before being returned.
type MedianScorer struct {
	Squared     bool
	InlierSigma float64
}

// NewMedianScorer returns a scorer matched to the given evaluator
func NewMedianScorer(eval ResidualEvaluator, inlierSigma float64) MedianScorer {
	if inlierSigma <= 0 {
		inlierSigma = DefaultInlierSigma
	}
	return MedianScorer{Squared: eval.Squared(), InlierSigma: inlierSigma}
}

// MedianIndex is the 0-based rank read as the median of n sorted values.
// For odd n this is the middle element; for even n it is the lower of the two,
// (n-1)/2 rather than n/2, which would select the upper one.
func MedianIndex(n int) int {
	if n <= 0 {
		return 0
	}
	return (n - 1) / 2
}

// LowerMedian returns the element at MedianIndex of the sorted values.
// values is not modified. Empty input yields +Inf.
func LowerMedian(values []float64) float64 {
	if len(values) == 0 {
		return math.Inf(1)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[MedianIndex(len(sorted))]
}

// Score implements RobustScorer
func (s MedianScorer) Score(residuals []float64) float64 {
	m := LowerMedian(residuals)
	if !s.Squared && !math.IsInf(m, 1) {
		m *= m
	}
	return m
}

// RobustSigma is Zhang's robust standard deviation for a median squared
// residual over n correspondences fitted from p-point subsets.
func RobustSigma(cost float64, n, p int) float64 {
	factor := 1.0
	if n > p {
		factor += 5.0 / float64(n-p)
	}
	return madToSigma * factor * math.Sqrt(cost)
}

// Classify implements RobustScorer
func (s MedianScorer) Classify(residuals []float64, cost float64, sampleSize int) ([]bool, int, float64) {
	k := s.InlierSigma
	if k <= 0 {
		k = DefaultInlierSigma
	}
	sigma := RobustSigma(cost, len(residuals), sampleSize)
	thresh := (k * sigma) * (k * sigma)

	mask := make([]bool, len(residuals))
	count := 0
	for i, r := range residuals {
		if !s.Squared {
			r *= r
		}
		if r <= thresh {
			mask[i] = true
			count++
		}
	}
	return mask, count, thresh
}
