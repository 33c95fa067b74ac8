package stats

import (
	"math"
	"sort"
)

// Quantile returns the p-quantile (0 <= p <= 1) of sorted using linear
// interpolation between closest ranks: rank = p*(n-1). sorted must be in
// ascending order. An empty input yields NaN.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 || math.IsNaN(p) {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	rank := p * float64(n-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= n {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	if weight == 0 {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

// Median returns the middle value of xs, or the mean of the two middle
// values when len(xs) is even. xs is not modified. ok is false when xs is
// empty.
func Median(xs []float64) (median float64, ok bool) {
	n := len(xs)
	if n == 0 {
		return math.NaN(), false
	}
	cp := make([]float64, n)
	copy(cp, xs)
	sort.Float64s(cp)
	mid := n / 2
	if n%2 == 0 {
		return (cp[mid-1] + cp[mid]) / 2, true
	}
	return cp[mid], true
}
