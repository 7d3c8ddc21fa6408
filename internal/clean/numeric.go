package clean

import (
	"math"
	"sort"
)

// quantile computes the p-quantile of values by linear interpolation at
// h = p*(n-1) over the sorted sample. For [1,2,3,4,100]: Q1=2, Q3=4.
func quantile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	h := p * float64(n-1)
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	if lo == hi {
		return sorted[lo]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// median is the 0.5-quantile.
func median(values []float64) float64 { return quantile(values, 0.5) }

// round3 rounds to 3 decimal places, the precision imputed values carry.
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
