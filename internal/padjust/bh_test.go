package padjust

import (
	"math"
	"math/rand"
	"testing"
)

func TestBenjaminiHochberg_KnownValues(t *testing.T) {
	p := []float64{0.005, 0.03, 0.04}
	adj := BenjaminiHochberg(p, 0)

	want := []float64{0.015, 0.04, 0.04}
	for i := range want {
		if math.Abs(adj[i]-want[i]) > 1e-12 {
			t.Errorf("adj[%d] = %g, want %g", i, adj[i], want[i])
		}
	}
}

func TestBenjaminiHochberg_EqualSpacing(t *testing.T) {
	// p_i = i * alpha / m collapses to a single adjusted value
	p := []float64{0.01, 0.02, 0.03, 0.04, 0.05}
	adj := BenjaminiHochberg(p, 0)
	for i := range adj {
		if math.Abs(adj[i]-0.05) > 1e-12 {
			t.Errorf("adj[%d] = %g, want 0.05", i, adj[i])
		}
	}
}

func TestBenjaminiHochberg_AdjustedNeverBelowRaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := make([]float64, 50)
	for i := range p {
		p[i] = rng.Float64()
	}
	adj := BenjaminiHochberg(p, 0)
	for i := range p {
		if adj[i] < p[i]-1e-12 {
			t.Errorf("adj[%d] = %g below raw %g", i, adj[i], p[i])
		}
		if adj[i] > 1 {
			t.Errorf("adj[%d] = %g above 1", i, adj[i])
		}
	}
}

func TestBenjaminiHochberg_PermutationInvariant(t *testing.T) {
	p := []float64{0.2, 0.001, 0.04, 0.9, 0.04, 0.15}
	adj := BenjaminiHochberg(p, 0)

	perm := []int{3, 0, 5, 1, 4, 2}
	shuffled := make([]float64, len(p))
	for i, j := range perm {
		shuffled[i] = p[j]
	}
	adjShuffled := BenjaminiHochberg(shuffled, 0)

	for i, j := range perm {
		if math.Abs(adjShuffled[i]-adj[j]) > 1e-12 {
			t.Errorf("Permuted input changed adjustment: got %g, want %g", adjShuffled[i], adj[j])
		}
	}
}

func TestBenjaminiHochberg_NaNPassThrough(t *testing.T) {
	p := []float64{0.01, math.NaN(), 0.02}
	adj := BenjaminiHochberg(p, 0)

	if !math.IsNaN(adj[1]) {
		t.Errorf("NaN input should stay NaN, got %g", adj[1])
	}
	// Denominator is the valid count (2), not the slice length
	if math.Abs(adj[0]-0.02) > 1e-12 {
		t.Errorf("adj[0] = %g, want 0.02", adj[0])
	}
	if math.Abs(adj[2]-0.02) > 1e-12 {
		t.Errorf("adj[2] = %g, want 0.02", adj[2])
	}
}

func TestBenjaminiHochberg_ExplicitDenominator(t *testing.T) {
	p := []float64{0.01, math.NaN(), 0.02}
	adj := BenjaminiHochberg(p, 3)

	if math.Abs(adj[0]-0.03) > 1e-12 {
		t.Errorf("adj[0] = %g, want 0.03 with m=3", adj[0])
	}
	if math.Abs(adj[2]-0.03) > 1e-12 {
		t.Errorf("adj[2] = %g, want 0.03 with m=3", adj[2])
	}
}

func TestBenjaminiHochberg_SingleValue(t *testing.T) {
	adj := BenjaminiHochberg([]float64{0.04}, 0)
	if math.Abs(adj[0]-0.04) > 1e-12 {
		t.Errorf("Single p-value should be unchanged, got %g", adj[0])
	}
}

func TestThreshold(t *testing.T) {
	if got := Threshold(0.04, 0.05); got != "Significant" {
		t.Errorf("p below alpha: got %q", got)
	}
	if got := Threshold(0.05, 0.05); got != "Non-significant" {
		t.Errorf("p equal to alpha must be non-significant: got %q", got)
	}
	if got := Threshold(0.9, 0.05); got != "Non-significant" {
		t.Errorf("p above alpha: got %q", got)
	}
	if got := Threshold(math.NaN(), 0.05); got != "" {
		t.Errorf("NaN p-value must yield empty label: got %q", got)
	}
}
