package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"goowas/domain/dataset"
)

// CohortConfig configures the synthetic omics cohort generator.
type CohortConfig struct {
	Subjects     int     // number of subjects (rows for the cross-sectional table)
	Features     int     // number of omics feature columns
	Signal       int     // how many leading features carry a planted effect
	EffectSize   float64 // logistic coefficient of planted features on the outcome
	VisitsPer    int     // repeated-measures visits per subject (1 = cross-sectional)
	SetSize      int     // matched-set size for case-control tables (1 case + SetSize-1 controls)
	ExposureVars int     // number of correlated mixture exposure columns
	Seed         int64
}

// DefaultCohortConfig returns a cohort small enough for fast tests but large
// enough that planted effects dominate sampling noise.
func DefaultCohortConfig() CohortConfig {
	return CohortConfig{
		Subjects:     400,
		Features:     8,
		Signal:       2,
		EffectSize:   1.2,
		VisitsPer:    1,
		SetSize:      2,
		ExposureVars: 3,
		Seed:         42,
	}
}

// CohortGenerator produces deterministic synthetic study tables: omics
// features, a binary outcome driven by the planted features, covariates,
// and the grouping columns the matched and repeated-measures designs need.
type CohortGenerator struct {
	config CohortConfig
	rng    *rand.Rand
}

// NewCohortGenerator creates a seeded cohort generator.
func NewCohortGenerator(config CohortConfig) *CohortGenerator {
	return &CohortGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// FeatureName returns the column name of the i-th feature, matching the
// columns GenerateCohort emits.
func FeatureName(i int) string {
	return fmt.Sprintf("feat_%03d", i+1)
}

// FeatureNames lists the first n feature column names.
func FeatureNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = FeatureName(i)
	}
	return names
}

// GenerateCohort builds a cross-sectional table: one row per subject with
// columns feat_001..feat_NNN, outcome (0/1), age, sex, subject_id, and
// set_id. The first Signal features push the outcome with EffectSize on the
// log-odds scale; the rest are pure noise.
func (g *CohortGenerator) GenerateCohort() (*dataset.Table, error) {
	n := g.config.Subjects
	feats := make([][]float64, g.config.Features)
	for j := range feats {
		feats[j] = make([]float64, n)
		for i := 0; i < n; i++ {
			feats[j][i] = g.rng.NormFloat64()
		}
	}

	age := make([]float64, n)
	sex := make([]string, n)
	outcome := make([]float64, n)
	subject := make([]string, n)
	set := make([]string, n)
	for i := 0; i < n; i++ {
		age[i] = 40 + 12*g.rng.NormFloat64()
		if g.rng.Float64() < 0.5 {
			sex[i] = "F"
		} else {
			sex[i] = "M"
		}

		logit := -0.2 + 0.01*(age[i]-40)
		for j := 0; j < g.config.Signal && j < g.config.Features; j++ {
			logit += g.config.EffectSize * feats[j][i]
		}
		if g.rng.Float64() < 1/(1+math.Exp(-logit)) {
			outcome[i] = 1
		}

		subject[i] = fmt.Sprintf("subj_%04d", i+1)
		set[i] = fmt.Sprintf("set_%04d", i/g.config.SetSize+1)
	}

	tbl := dataset.NewTable()
	for j := range feats {
		if err := tbl.AddNumeric(FeatureName(j), feats[j]); err != nil {
			return nil, err
		}
	}
	if err := tbl.AddNumeric("outcome", outcome); err != nil {
		return nil, err
	}
	if err := tbl.AddNumeric("age", age); err != nil {
		return nil, err
	}
	if err := tbl.AddCategorical("sex", sex); err != nil {
		return nil, err
	}
	if err := tbl.AddCategorical("subject_id", subject); err != nil {
		return nil, err
	}
	if err := tbl.AddCategorical("set_id", set); err != nil {
		return nil, err
	}
	return tbl, nil
}

// GenerateLongitudinal builds a long-format table with VisitsPer rows per
// subject. Each subject carries a random intercept so rows within a subject
// correlate, and continuous_outcome responds to the planted features.
func (g *CohortGenerator) GenerateLongitudinal() (*dataset.Table, error) {
	n := g.config.Subjects * g.config.VisitsPer
	feats := make([][]float64, g.config.Features)
	for j := range feats {
		feats[j] = make([]float64, n)
	}
	outcome := make([]float64, n)
	visit := make([]float64, n)
	subject := make([]string, n)

	row := 0
	for s := 0; s < g.config.Subjects; s++ {
		intercept := g.rng.NormFloat64() // subject-level shift
		id := fmt.Sprintf("subj_%04d", s+1)
		for v := 0; v < g.config.VisitsPer; v++ {
			y := intercept + 0.1*float64(v) + 0.3*g.rng.NormFloat64()
			for j := range feats {
				feats[j][row] = g.rng.NormFloat64()
				if j < g.config.Signal {
					y += g.config.EffectSize * feats[j][row]
				}
			}
			outcome[row] = y
			visit[row] = float64(v + 1)
			subject[row] = id
			row++
		}
	}

	tbl := dataset.NewTable()
	for j := range feats {
		if err := tbl.AddNumeric(FeatureName(j), feats[j]); err != nil {
			return nil, err
		}
	}
	if err := tbl.AddNumeric("continuous_outcome", outcome); err != nil {
		return nil, err
	}
	if err := tbl.AddNumeric("visit", visit); err != nil {
		return nil, err
	}
	if err := tbl.AddCategorical("subject_id", subject); err != nil {
		return nil, err
	}
	return tbl, nil
}

// GenerateMatched builds a matched case-control table: sets of SetSize
// members with exactly one case each, where planted features are shifted
// upward in cases relative to their matched controls.
func (g *CohortGenerator) GenerateMatched(sets int) (*dataset.Table, error) {
	n := sets * g.config.SetSize
	feats := make([][]float64, g.config.Features)
	for j := range feats {
		feats[j] = make([]float64, n)
	}
	status := make([]float64, n)
	set := make([]string, n)

	row := 0
	for s := 0; s < sets; s++ {
		base := make([]float64, g.config.Features) // shared matched-set level
		for j := range base {
			base[j] = g.rng.NormFloat64()
		}
		caseIdx := g.rng.Intn(g.config.SetSize)
		for m := 0; m < g.config.SetSize; m++ {
			for j := range feats {
				feats[j][row] = base[j] + 0.5*g.rng.NormFloat64()
				if m == caseIdx && j < g.config.Signal {
					feats[j][row] += g.config.EffectSize
				}
			}
			if m == caseIdx {
				status[row] = 1
			}
			set[row] = fmt.Sprintf("set_%04d", s+1)
			row++
		}
	}

	tbl := dataset.NewTable()
	for j := range feats {
		if err := tbl.AddNumeric(FeatureName(j), feats[j]); err != nil {
			return nil, err
		}
	}
	if err := tbl.AddNumeric("case_status", status); err != nil {
		return nil, err
	}
	if err := tbl.AddCategorical("set_id", set); err != nil {
		return nil, err
	}
	return tbl, nil
}

// GenerateMixture builds a table for mixture analyses: ExposureVars
// correlated exposures exp_01.., feature columns responding to their sum,
// and an age covariate. The joint mixture effect on feat_001 is positive.
func (g *CohortGenerator) GenerateMixture() (*dataset.Table, error) {
	n := g.config.Subjects
	shared := make([]float64, n)
	for i := range shared {
		shared[i] = g.rng.NormFloat64()
	}

	exposures := make([][]float64, g.config.ExposureVars)
	for j := range exposures {
		exposures[j] = make([]float64, n)
		for i := 0; i < n; i++ {
			exposures[j][i] = 0.7*shared[i] + 0.7*g.rng.NormFloat64()
		}
	}

	age := make([]float64, n)
	feats := make([][]float64, g.config.Features)
	for j := range feats {
		feats[j] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		age[i] = 40 + 12*g.rng.NormFloat64()
		burden := 0.0
		for j := range exposures {
			burden += exposures[j][i]
		}
		for j := range feats {
			feats[j][i] = 0.5 * g.rng.NormFloat64()
			if j < g.config.Signal {
				feats[j][i] += 0.4 * burden
			}
		}
	}

	tbl := dataset.NewTable()
	for j := range exposures {
		if err := tbl.AddNumeric(fmt.Sprintf("exp_%02d", j+1), exposures[j]); err != nil {
			return nil, err
		}
	}
	for j := range feats {
		if err := tbl.AddNumeric(FeatureName(j), feats[j]); err != nil {
			return nil, err
		}
	}
	if err := tbl.AddNumeric("age", age); err != nil {
		return nil, err
	}
	return tbl, nil
}
