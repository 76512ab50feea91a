package model

import (
	"math"
	"time"

	"goowas/domain/core"
)

// Family is the closed set of regression families supported by the engine.
// Dispatch happens through typed tags, never through ad-hoc string matching.
type Family string

const (
	Gaussian Family = "gaussian"
	Binomial Family = "binomial"
)

// ParseFamily validates a family selector coming from configuration.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case Gaussian, Binomial:
		return Family(s), nil
	default:
		return "", core.NewConfigError("family", "must be \"gaussian\" or \"binomial\", got \""+s+"\"")
	}
}

// TieMethod selects the tie-handling approximation for the matched-design
// conditional likelihood.
type TieMethod string

const (
	Efron   TieMethod = "efron"
	Breslow TieMethod = "breslow"
)

// ParseTieMethod validates a method selector, defaulting empty to Efron.
func ParseTieMethod(s string) (TieMethod, error) {
	switch TieMethod(s) {
	case "":
		return Efron, nil
	case Efron, Breslow:
		return TieMethod(s), nil
	default:
		return "", core.NewConfigError("method", "must be \"efron\" or \"breslow\", got \""+s+"\"")
	}
}

// ModelSpec describes one model fit: the outcome, the single predictor term
// whose coefficient is reported, ordered covariates, and the optional
// stratification / grouping / mixture variables used by the variants.
// A spec is built fresh per feature and never reused.
type ModelSpec struct {
	Outcome    string
	Predictor  string
	Covariates []string
	Strata     string   // matched-design variant only
	Group      string   // repeated-measures variant only
	Exposures  []string // mixture variant only
	Family     Family
	Formula    string
}

// Partial is one exposure's coefficient within a fitted mixture.
type Partial struct {
	Name     string  `json:"name"`
	Estimate float64 `json:"estimate"`
}

// FitResult is the normalized statistic bundle every fitter produces.
// When Success is false all numeric fields are NaN, never zero.
type FitResult struct {
	Term      string
	Estimate  float64
	StdErr    float64
	Statistic float64
	PValue    float64
	CILower   float64
	CIUpper   float64
	NObs      int
	Partials  []Partial
	Success   bool
	Reason    string
}

// FailedFit builds the canonical failure record for one feature.
func FailedFit(term, reason string) FitResult {
	nan := math.NaN()
	return FitResult{
		Term:      term,
		Estimate:  nan,
		StdErr:    nan,
		Statistic: nan,
		PValue:    nan,
		CILower:   nan,
		CIUpper:   nan,
		Success:   false,
		Reason:    reason,
	}
}

// Threshold labels derived from the unadjusted p-value.
const (
	Significant    = "Significant"
	NonSignificant = "Non-significant"
)

// FitStatusOK marks rows whose model fit succeeded.
const FitStatusOK = "ok"

// Row is one line of the final result table: feature identity, the fit
// statistics verbatim, and the batch-derived columns.
type Row struct {
	FeatureName string    `json:"feature_name"`
	VarName     string    `json:"var_name"`
	Estimate    float64   `json:"estimate"`
	StdErr      float64   `json:"se"`
	Statistic   float64   `json:"test_statistic"`
	PValue      float64   `json:"p_value"`
	CILower     float64   `json:"ci_lower"`
	CIUpper     float64   `json:"ci_upper"`
	AdjustedP   float64   `json:"adjusted_pval"`
	Threshold   string    `json:"threshold"`
	FitStatus   string    `json:"fit_status"`
	Formula     string    `json:"formula"`
	NObs        int       `json:"n_obs"`
	Partials    []Partial `json:"partials,omitempty"`
}

// ResultTable is the sole artifact an analysis returns. Row order matches
// the requested feature order; adjusted p-values were computed over the
// whole p_value column in one batch.
type ResultTable struct {
	RunID           core.RunID `json:"run_id"`
	Analysis        string     `json:"analysis"`
	ConfidenceLevel float64    `json:"confidence_level"`
	Rows            []Row      `json:"rows"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Alpha returns the significance level implied by the confidence level.
func (t *ResultTable) Alpha() float64 {
	return 1 - t.ConfidenceLevel
}
