package padjust

import (
	"math"
	"sort"

	"goowas/domain/model"
)

// BenjaminiHochberg computes FDR-adjusted p-values over one batch using the
// Benjamini-Hochberg step-up procedure with the cumulative-minimum pass, so
// adjusted values are elementwise >= raw values and invariant under input
// permutation. NaN entries (failed fits) pass through as NaN.
//
// The correction denominator is max(m, number of valid p-values); callers
// that count failed fits toward the denominator pass the full test count,
// everyone else passes 0.
func BenjaminiHochberg(p []float64, m int) []float64 {
	adj := make([]float64, len(p))
	var idx []int
	for i, v := range p {
		if math.IsNaN(v) {
			adj[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	if m < len(idx) {
		m = len(idx)
	}

	sort.Slice(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })

	run := math.Inf(1)
	for r := len(idx); r >= 1; r-- {
		i := idx[r-1]
		v := p[i] * float64(m) / float64(r)
		if v < run {
			run = v
		}
		adj[i] = math.Min(run, 1)
	}
	return adj
}

// Threshold labels a raw (unadjusted) p-value against alpha. A p-value
// exactly equal to alpha is Non-significant; NaN yields an empty label.
// Thresholding deliberately uses the raw p-value, not the adjusted one.
func Threshold(p, alpha float64) string {
	if math.IsNaN(p) {
		return ""
	}
	if p < alpha {
		return model.Significant
	}
	return model.NonSignificant
}
