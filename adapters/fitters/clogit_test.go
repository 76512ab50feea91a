package fitters

import (
	"context"
	"math"
	"testing"

	"goowas/domain/dataset"
	"goowas/domain/model"
	"goowas/internal/testkit"
)

func matchedTable(t *testing.T) *dataset.Table {
	t.Helper()
	gen := testkit.NewCohortGenerator(testkit.CohortConfig{
		Features:   3,
		Signal:     1,
		EffectSize: 1.5,
		SetSize:    2,
		Seed:       42,
	})
	tbl, err := gen.GenerateMatched(200)
	if err != nil {
		t.Fatalf("GenerateMatched failed: %v", err)
	}
	return tbl
}

func TestCLogit_RequiresStrata(t *testing.T) {
	tbl := matchedTable(t)
	res := NewCLogit(Config{ConfidenceLevel: 0.95}, model.Efron).Fit(context.Background(), model.ModelSpec{
		Outcome:   "case_status",
		Predictor: "feat_001",
		Family:    model.Binomial,
	}, tbl)
	if res.Success {
		t.Fatal("Missing strata variable should fail")
	}
}

func TestCLogit_DetectsPlantedEffect(t *testing.T) {
	tbl := matchedTable(t)
	res := NewCLogit(Config{ConfidenceLevel: 0.95, ConfInt: true}, model.Efron).Fit(context.Background(), model.ModelSpec{
		Outcome:   "case_status",
		Predictor: "feat_001",
		Strata:    "set_id",
		Family:    model.Binomial,
	}, tbl)

	if !res.Success {
		t.Fatalf("Fit failed: %s", res.Reason)
	}
	if res.Estimate <= 0 {
		t.Errorf("Planted positive effect, got estimate %g", res.Estimate)
	}
	if res.PValue > 0.01 {
		t.Errorf("Planted effect across 200 matched pairs should be clear, p = %g", res.PValue)
	}
	if res.CILower >= res.Estimate || res.CIUpper <= res.Estimate {
		t.Errorf("Interval [%g, %g] should bracket estimate %g", res.CILower, res.CIUpper, res.Estimate)
	}
}

func TestCLogit_NoiseFeatureFitsCleanly(t *testing.T) {
	tbl := matchedTable(t)
	res := NewCLogit(Config{ConfidenceLevel: 0.95}, model.Efron).Fit(context.Background(), model.ModelSpec{
		Outcome:   "case_status",
		Predictor: "feat_003",
		Strata:    "set_id",
		Family:    model.Binomial,
	}, tbl)

	// A null feature starts BFGS near its own optimum; a stalled linesearch
	// there must still yield a clean fit, not a convergence failure.
	if !res.Success {
		t.Fatalf("Fit failed: %s", res.Reason)
	}
	if math.Abs(res.Estimate) > 0.5 {
		t.Errorf("Noise feature should estimate near zero, got %g", res.Estimate)
	}
	if math.IsNaN(res.PValue) || res.PValue < 0 || res.PValue > 1 {
		t.Errorf("p = %g out of range", res.PValue)
	}
}

func TestCLogit_BreslowAgreesInDirection(t *testing.T) {
	tbl := matchedTable(t)
	efron := NewCLogit(Config{ConfidenceLevel: 0.95}, model.Efron)
	breslow := NewCLogit(Config{ConfidenceLevel: 0.95}, model.Breslow)
	spec := model.ModelSpec{
		Outcome:   "case_status",
		Predictor: "feat_001",
		Strata:    "set_id",
		Family:    model.Binomial,
	}

	re := efron.Fit(context.Background(), spec, tbl)
	rb := breslow.Fit(context.Background(), spec, tbl)
	if !re.Success || !rb.Success {
		t.Fatalf("Fits failed: efron=%q breslow=%q", re.Reason, rb.Reason)
	}
	// Singly-matched pairs have no ties, so the two approximations coincide
	if math.Abs(re.Estimate-rb.Estimate) > 1e-4 {
		t.Errorf("Efron %g and Breslow %g should match on untied sets", re.Estimate, rb.Estimate)
	}
}

func TestCLogit_UninformativeSetsFail(t *testing.T) {
	// One all-case set and one all-control set: nothing to condition on.
	tbl := dataset.NewTable()
	_ = tbl.AddNumeric("feat", []float64{1.2, 0.8, 0.5, 1.9})
	_ = tbl.AddNumeric("case_status", []float64{1, 1, 0, 0})
	_ = tbl.AddCategorical("set_id", []string{"s1", "s1", "s2", "s2"})

	res := NewCLogit(Config{ConfidenceLevel: 0.95}, model.Efron).Fit(context.Background(), model.ModelSpec{
		Outcome:   "case_status",
		Predictor: "feat",
		Strata:    "set_id",
		Family:    model.Binomial,
	}, tbl)
	if res.Success {
		t.Fatal("Expected failure when no matched set is informative")
	}
}
