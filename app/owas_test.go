package app

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goowas/domain/core"
	"goowas/domain/dataset"
	"goowas/domain/model"
	"goowas/internal/testkit"
)

// scriptedFitter returns canned results per predictor term, for exercising
// the aggregation layer without real numerics.
type scriptedFitter struct {
	fail  map[string]string
	p     map[string]float64
	panic map[string]bool
}

func (f *scriptedFitter) Fit(ctx context.Context, spec model.ModelSpec, tbl *dataset.Table) model.FitResult {
	if f.panic[spec.Predictor] {
		panic("scripted panic for " + spec.Predictor)
	}
	if reason, ok := f.fail[spec.Predictor]; ok {
		return model.FailedFit(spec.Predictor, reason)
	}
	return model.FitResult{
		Term:      spec.Predictor,
		Estimate:  1,
		StdErr:    0.5,
		Statistic: 2,
		PValue:    f.p[spec.Predictor],
		CILower:   math.NaN(),
		CIUpper:   math.NaN(),
		NObs:      tbl.NumRows(),
		Success:   true,
	}
}

func cohort(t *testing.T) *dataset.Table {
	t.Helper()
	tbl, err := testkit.NewCohortGenerator(testkit.DefaultCohortConfig()).GenerateCohort()
	require.NoError(t, err)
	return tbl
}

func TestOwas_EndToEndBinomial(t *testing.T) {
	tbl := cohort(t)
	svc := NewService(nil)

	opts := DefaultOptions()
	opts.ConfInt = true
	table, err := svc.Owas(context.Background(), OwasRequest{
		Table:      tbl,
		Variables:  []string{"outcome"},
		Features:   testkit.FeatureNames(8),
		Covariates: []string{"age", "sex"},
		Family:     "binomial",
		Options:    opts,
	})
	require.NoError(t, err)
	require.Len(t, table.Rows, 8)
	assert.Equal(t, "owas", table.Analysis)
	assert.Equal(t, 0.95, table.ConfidenceLevel)
	assert.NotEmpty(t, table.RunID)

	// Row order follows the requested feature order
	for i, name := range testkit.FeatureNames(8) {
		assert.Equal(t, name, table.Rows[i].FeatureName)
		assert.Equal(t, "outcome", table.Rows[i].VarName)
	}

	// The two planted features must be flagged
	for i := 0; i < 2; i++ {
		row := table.Rows[i]
		assert.Equal(t, model.FitStatusOK, row.FitStatus, "feature %s", row.FeatureName)
		assert.Positive(t, row.Estimate, "feature %s", row.FeatureName)
		assert.Equal(t, model.Significant, row.Threshold, "feature %s", row.FeatureName)
	}

	for _, row := range table.Rows {
		require.Equal(t, model.FitStatusOK, row.FitStatus)
		assert.GreaterOrEqual(t, row.AdjustedP, row.PValue, "adjusted below raw for %s", row.FeatureName)
		assert.LessOrEqual(t, row.AdjustedP, 1.0)
		assert.Contains(t, row.Formula, row.FeatureName)
		assert.Positive(t, row.NObs)
	}
}

func smallBinomialTable(t *testing.T, constantFeature bool) *dataset.Table {
	t.Helper()
	rng := rand.New(rand.NewSource(21))
	n := 100
	f1 := make([]float64, n)
	f2 := make([]float64, n)
	f3 := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		f1[i] = rng.NormFloat64()
		f2[i] = rng.NormFloat64()
		f3[i] = rng.NormFloat64()
		if constantFeature {
			f3[i] = 5
		}
		if rng.Float64() < 1/(1+math.Exp(-f1[i])) {
			y[i] = 1
		}
	}
	tbl := dataset.NewTable()
	require.NoError(t, tbl.AddNumeric("f1", f1))
	require.NoError(t, tbl.AddNumeric("f2", f2))
	require.NoError(t, tbl.AddNumeric("f3", f3))
	require.NoError(t, tbl.AddNumeric("y", y))
	return tbl
}

func TestOwas_ThreeFeatureBinomialScenario(t *testing.T) {
	tbl := smallBinomialTable(t, false)
	svc := NewService(nil)

	table, err := svc.Owas(context.Background(), OwasRequest{
		Table:     tbl,
		Variables: []string{"y"},
		Features:  []string{"f1", "f2", "f3"},
		Family:    "binomial",
		Options:   DefaultOptions(),
	})
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	for _, row := range table.Rows {
		require.Equal(t, model.FitStatusOK, row.FitStatus)
		assert.False(t, math.IsNaN(row.Estimate))
		assert.GreaterOrEqual(t, row.PValue, 0.0)
		assert.LessOrEqual(t, row.PValue, 1.0)
		assert.GreaterOrEqual(t, row.AdjustedP, row.PValue)
	}
}

func TestOwas_RepeatedRunsPresentIdentically(t *testing.T) {
	tbl := cohort(t)
	svc := NewService(nil)

	opts := DefaultOptions()
	opts.ConfInt = true
	req := OwasRequest{
		Table:      tbl,
		Variables:  []string{"outcome"},
		Features:   testkit.FeatureNames(8),
		Covariates: []string{"age", "sex"},
		Family:     "binomial",
		Options:    opts,
	}

	first, err := svc.Owas(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Owas(context.Background(), req)
	require.NoError(t, err)

	// Run IDs differ; every presented record must not.
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, Present(first), Present(second))
}

func TestOwas_ConstantFeatureIsFatal(t *testing.T) {
	tbl := smallBinomialTable(t, true)
	svc := NewService(nil)

	_, err := svc.Owas(context.Background(), OwasRequest{
		Table:     tbl,
		Variables: []string{"y"},
		Features:  []string{"f1", "f2", "f3"},
		Family:    "binomial",
		Options:   DefaultOptions(),
	})
	require.Error(t, err)
	assert.True(t, core.IsZeroVarianceError(err), "got %v", err)
	assert.True(t, strings.Contains(err.Error(), "f3"), "error should name the flat feature: %v", err)
}

func TestOwas_ValidationErrors(t *testing.T) {
	tbl := cohort(t)
	svc := NewService(nil)
	base := OwasRequest{
		Table:     tbl,
		Variables: []string{"outcome"},
		Features:  []string{"feat_001"},
		Family:    "binomial",
		Options:   DefaultOptions(),
	}

	t.Run("unknown family", func(t *testing.T) {
		req := base
		req.Family = "poisson"
		_, err := svc.Owas(context.Background(), req)
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})

	t.Run("confidence level out of range", func(t *testing.T) {
		req := base
		req.Options.ConfidenceLevel = 1.5
		_, err := svc.Owas(context.Background(), req)
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})

	t.Run("no features", func(t *testing.T) {
		req := base
		req.Features = nil
		_, err := svc.Owas(context.Background(), req)
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})

	t.Run("no variables", func(t *testing.T) {
		req := base
		req.Variables = nil
		_, err := svc.Owas(context.Background(), req)
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})

	t.Run("non-binary binomial outcome", func(t *testing.T) {
		req := base
		req.Variables = []string{"age"}
		_, err := svc.Owas(context.Background(), req)
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})

	t.Run("unknown role", func(t *testing.T) {
		req := base
		req.Role = "sideways"
		_, err := svc.Owas(context.Background(), req)
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})

	t.Run("missing column is fatal", func(t *testing.T) {
		req := base
		req.Features = []string{"feat_001", "ghost"}
		_, err := svc.Owas(context.Background(), req)
		assert.True(t, core.IsMissingColumnError(err), "got %v", err)
	})
}

func TestOwas_RoleExposure(t *testing.T) {
	tbl := cohort(t)
	svc := NewService(nil)

	table, err := svc.Owas(context.Background(), OwasRequest{
		Table:     tbl,
		Variables: []string{"age"},
		Features:  []string{"feat_001"},
		Family:    "gaussian",
		Role:      VariableAsExposure,
		Options:   DefaultOptions(),
	})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	// The feature is the response, so the formula leads with it
	assert.Equal(t, "feat_001 ~ age", table.Rows[0].Formula)
	assert.Equal(t, model.FitStatusOK, table.Rows[0].FitStatus)
}

func TestOwas_FailureIsolation(t *testing.T) {
	tbl := cohort(t)
	svc := NewService(nil)
	fitter := &scriptedFitter{
		fail:  map[string]string{"feat_002": "singular design matrix"},
		panic: map[string]bool{"feat_003": true},
		p:     map[string]float64{"feat_001": 0.01, "feat_004": 0.3},
	}

	table, err := svc.Owas(context.Background(), OwasRequest{
		Table:     tbl,
		Variables: []string{"outcome"},
		Features:  []string{"feat_001", "feat_002", "feat_003", "feat_004"},
		Family:    "binomial",
		Options:   DefaultOptions(),
		Fitter:    fitter,
	})
	require.NoError(t, err, "one bad feature must not abort the batch")
	require.Len(t, table.Rows, 4)

	failed := table.Rows[1]
	assert.Equal(t, "singular design matrix", failed.FitStatus)
	assert.True(t, math.IsNaN(failed.Estimate))
	assert.True(t, math.IsNaN(failed.PValue))
	assert.True(t, math.IsNaN(failed.AdjustedP))
	assert.Equal(t, "", failed.Threshold)

	panicked := table.Rows[2]
	assert.Contains(t, panicked.FitStatus, "fit panicked")
	assert.True(t, math.IsNaN(panicked.Estimate))

	for _, i := range []int{0, 3} {
		assert.Equal(t, model.FitStatusOK, table.Rows[i].FitStatus)
		assert.False(t, math.IsNaN(table.Rows[i].PValue))
	}
}

func TestOwas_ParallelMatchesSequential(t *testing.T) {
	tbl := cohort(t)
	svc := NewService(nil)
	fitter := &scriptedFitter{
		fail: map[string]string{"feat_005": "did not converge"},
		p: map[string]float64{
			"feat_001": 0.001, "feat_002": 0.02, "feat_003": 0.6,
			"feat_004": 0.04, "feat_006": 0.9, "feat_007": 0.2, "feat_008": 0.03,
		},
	}
	run := func(workers int) *model.ResultTable {
		opts := DefaultOptions()
		opts.Workers = workers
		table, err := svc.Owas(context.Background(), OwasRequest{
			Table:     tbl,
			Variables: []string{"outcome"},
			Features:  testkit.FeatureNames(8),
			Family:    "binomial",
			Options:   opts,
			Fitter:    fitter,
		})
		require.NoError(t, err)
		return table
	}

	seq := run(1)
	par := run(8)
	require.Len(t, par.Rows, len(seq.Rows))
	for i := range seq.Rows {
		a, b := seq.Rows[i], par.Rows[i]
		assert.Equal(t, a.FeatureName, b.FeatureName)
		assert.Equal(t, a.FitStatus, b.FitStatus)
		assert.Equal(t, a.Threshold, b.Threshold)
		if !math.IsNaN(a.PValue) {
			assert.Equal(t, a.PValue, b.PValue)
			assert.Equal(t, a.AdjustedP, b.AdjustedP)
		}
	}
}

func TestOwas_CountFailedTests(t *testing.T) {
	tbl := cohort(t)
	svc := NewService(nil)
	fitter := &scriptedFitter{
		fail: map[string]string{"feat_003": "no complete cases"},
		p:    map[string]float64{"feat_001": 0.02, "feat_002": 0.04},
	}
	req := OwasRequest{
		Table:     tbl,
		Variables: []string{"outcome"},
		Features:  []string{"feat_001", "feat_002", "feat_003"},
		Family:    "binomial",
		Options:   DefaultOptions(),
		Fitter:    fitter,
	}

	table, err := svc.Owas(context.Background(), req)
	require.NoError(t, err)
	// Failed fit excluded: m = 2
	assert.InDelta(t, 0.04, table.Rows[0].AdjustedP, 1e-12)
	assert.InDelta(t, 0.04, table.Rows[1].AdjustedP, 1e-12)

	req.Options.CountFailedTests = true
	table, err = svc.Owas(context.Background(), req)
	require.NoError(t, err)
	// Failed fit counted: m = 3
	assert.InDelta(t, 0.06, table.Rows[0].AdjustedP, 1e-12)
	assert.InDelta(t, 0.06, table.Rows[1].AdjustedP, 1e-12)
}

func TestOwasMixed_EndToEnd(t *testing.T) {
	cfg := testkit.DefaultCohortConfig()
	cfg.Subjects = 100
	cfg.VisitsPer = 4
	cfg.Features = 4
	tbl, err := testkit.NewCohortGenerator(cfg).GenerateLongitudinal()
	require.NoError(t, err)

	svc := NewService(nil)
	table, err := svc.OwasMixed(context.Background(), OwasMixedRequest{
		OwasRequest: OwasRequest{
			Table:     tbl,
			Variables: []string{"continuous_outcome"},
			Features:  testkit.FeatureNames(4),
			Family:    "gaussian",
			Options:   DefaultOptions(),
		},
		GroupVar: "subject_id",
	})
	require.NoError(t, err)
	require.Len(t, table.Rows, 4)
	assert.Equal(t, "owas_mixed", table.Analysis)

	// Planted features detected, grouping term in the formula
	for i := 0; i < 2; i++ {
		require.Equal(t, model.FitStatusOK, table.Rows[i].FitStatus)
		assert.Equal(t, model.Significant, table.Rows[i].Threshold)
		assert.Contains(t, table.Rows[i].Formula, "(1 | subject_id)")
	}

	_, err = svc.OwasMixed(context.Background(), OwasMixedRequest{
		OwasRequest: OwasRequest{
			Table:     tbl,
			Variables: []string{"continuous_outcome"},
			Features:  testkit.FeatureNames(4),
			Family:    "gaussian",
			Options:   DefaultOptions(),
		},
	})
	assert.True(t, core.IsConfigError(err), "missing group must be fatal, got %v", err)
}

func TestOwasCLogit_EndToEnd(t *testing.T) {
	cfg := testkit.DefaultCohortConfig()
	cfg.Features = 4
	cfg.Signal = 1
	// Moderate shift relative to the within-set noise: a larger one
	// quasi-separates the matched pairs and the Wald SE blows up.
	cfg.EffectSize = 0.8
	tbl, err := testkit.NewCohortGenerator(cfg).GenerateMatched(200)
	require.NoError(t, err)

	svc := NewService(nil)
	table, err := svc.OwasCLogit(context.Background(), OwasCLogitRequest{
		Table:     tbl,
		CaseVar:   "case_status",
		Features:  testkit.FeatureNames(4),
		StrataVar: "set_id",
		Options:   DefaultOptions(),
	})
	require.NoError(t, err)
	require.Len(t, table.Rows, 4)
	assert.Equal(t, "owas_clogit", table.Analysis)

	planted := table.Rows[0]
	require.Equal(t, model.FitStatusOK, planted.FitStatus)
	assert.Positive(t, planted.Estimate)
	assert.Equal(t, model.Significant, planted.Threshold)
	assert.Contains(t, planted.Formula, "strata(set_id)")

	t.Run("bad tie method", func(t *testing.T) {
		_, err := svc.OwasCLogit(context.Background(), OwasCLogitRequest{
			Table:     tbl,
			CaseVar:   "case_status",
			Features:  []string{"feat_001"},
			StrataVar: "set_id",
			Method:    "exact",
			Options:   DefaultOptions(),
		})
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})

	t.Run("missing strata", func(t *testing.T) {
		_, err := svc.OwasCLogit(context.Background(), OwasCLogitRequest{
			Table:    tbl,
			CaseVar:  "case_status",
			Features: []string{"feat_001"},
			Options:  DefaultOptions(),
		})
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})
}

func TestOwasQGComp_EndToEnd(t *testing.T) {
	cfg := testkit.DefaultCohortConfig()
	cfg.Features = 3
	cfg.Signal = 1
	tbl, err := testkit.NewCohortGenerator(cfg).GenerateMixture()
	require.NoError(t, err)

	svc := NewService(nil)
	q := 4
	table, err := svc.OwasQGComp(context.Background(), OwasQGCompRequest{
		Table:      tbl,
		Exposures:  []string{"exp_01", "exp_02", "exp_03"},
		Features:   testkit.FeatureNames(3),
		Covariates: []string{"age"},
		Q:          &q,
		Options:    DefaultOptions(),
	})
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "owas_qgcomp", table.Analysis)

	planted := table.Rows[0]
	require.Equal(t, model.FitStatusOK, planted.FitStatus)
	assert.Equal(t, "mixture", planted.VarName)
	assert.Positive(t, planted.Estimate)
	assert.Equal(t, model.Significant, planted.Threshold)
	assert.Len(t, planted.Partials, 3)

	t.Run("q below 2", func(t *testing.T) {
		bad := 1
		_, err := svc.OwasQGComp(context.Background(), OwasQGCompRequest{
			Table:     tbl,
			Exposures: []string{"exp_01"},
			Features:  []string{"feat_001"},
			Q:         &bad,
			Options:   DefaultOptions(),
		})
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})

	t.Run("no exposures", func(t *testing.T) {
		_, err := svc.OwasQGComp(context.Background(), OwasQGCompRequest{
			Table:    tbl,
			Features: []string{"feat_001"},
			Options:  DefaultOptions(),
		})
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})

	t.Run("dichotomous exposure requires raw values", func(t *testing.T) {
		bin := dataset.NewTable()
		n := tbl.NumRows()
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = float64(i % 2)
		}
		exp1, _ := tbl.Numeric("exp_01")
		f1, _ := tbl.Numeric("feat_001")
		require.NoError(t, bin.AddNumeric("exp_bin", vals))
		require.NoError(t, bin.AddNumeric("exp_01", exp1))
		require.NoError(t, bin.AddNumeric("feat_001", f1))

		qq := 4
		_, err := svc.OwasQGComp(context.Background(), OwasQGCompRequest{
			Table:     bin,
			Exposures: []string{"exp_bin", "exp_01"},
			Features:  []string{"feat_001"},
			Q:         &qq,
			Options:   DefaultOptions(),
		})
		assert.True(t, core.IsConfigError(err), "got %v", err)
	})
}
