package fitters

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"goowas/domain/dataset"
	"goowas/domain/model"
)

// PsiTerm names the joint mixture effect in qgcomp results.
const PsiTerm = "psi"

// defaultBootstrapReps is used when a bootstrap fit does not set its own count.
const defaultBootstrapReps = 200

// QGComp fits the exposure-mixture variant per omics feature. Each exposure
// is discretized into q ordered quantile scores (a nil q keeps raw values,
// which is required when exposures are already 0/1), all exposures enter one
// joint linear model with the feature as outcome, and the mixture effect psi
// is the sum of the exposure coefficients. Each exposure's own coefficient
// is returned as a partial effect.
//
// Two estimation modes share the output contract: the analytic mode derives
// var(psi) from the coefficient covariance; the bootstrap mode resamples
// rows with a seeded generator and is strictly slower.
type QGComp struct {
	Conf      Config
	Q         *int
	Bootstrap bool
	BootReps  int
	Seed      int64
}

// NewQGComp creates a mixture model fitter.
func NewQGComp(conf Config, q *int, bootstrap bool, reps int, seed int64) *QGComp {
	if reps <= 0 {
		reps = defaultBootstrapReps
	}
	return &QGComp{Conf: conf, Q: q, Bootstrap: bootstrap, BootReps: reps, Seed: seed}
}

// Fit fits one joint mixture model with spec.Outcome as the omics feature
// and spec.Exposures as the mixture.
func (g *QGComp) Fit(ctx context.Context, spec model.ModelSpec, tbl *dataset.Table) model.FitResult {
	if len(spec.Exposures) == 0 {
		return model.FailedFit(PsiTerm, "mixture requires at least one exposure")
	}

	used := append([]string{spec.Outcome}, spec.Covariates...)
	used = append(used, spec.Exposures...)
	rows, err := tbl.CompleteCases(used)
	if err != nil {
		return model.FailedFit(PsiTerm, err.Error())
	}
	sub := tbl.SelectRows(rows)

	work, err := g.workingTable(sub, spec)
	if err != nil {
		return model.FailedFit(PsiTerm, err.Error())
	}

	terms := make([]string, 0, len(spec.Covariates)+len(spec.Exposures))
	terms = append(terms, spec.Covariates...)
	terms = append(terms, spec.Exposures...)

	d, err := buildDesign(work, spec.Outcome, terms, "", true)
	if err != nil {
		return model.FailedFit(PsiTerm, err.Error())
	}
	est, err := fitOLS(d)
	if err != nil {
		return model.FailedFit(PsiTerm, err.Error())
	}

	idx := make([]int, len(spec.Exposures))
	for k, e := range spec.Exposures {
		j, ok := d.termIndex(e)
		if !ok {
			return model.FailedFit(PsiTerm, fmt.Sprintf("exposure %q must be a numeric column", e))
		}
		idx[k] = j
	}

	psi := 0.0
	partials := make([]model.Partial, len(spec.Exposures))
	for k, j := range idx {
		psi += est.coef[j]
		partials[k] = model.Partial{Name: spec.Exposures[k], Estimate: est.coef[j]}
	}

	res := model.FitResult{
		Term:     PsiTerm,
		Estimate: psi,
		CILower:  math.NaN(),
		CIUpper:  math.NaN(),
		NObs:     d.n,
		Partials: partials,
		Success:  true,
	}

	if g.Bootstrap {
		return g.bootstrapInference(ctx, res, work, spec, terms, idx)
	}

	varPsi := 0.0
	for _, a := range idx {
		for _, b := range idx {
			varPsi += est.cov.At(a, b)
		}
	}
	res.StdErr = math.Sqrt(varPsi)
	res.Statistic = psi / res.StdErr
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: est.df}
	res.PValue = 2 * dist.CDF(-math.Abs(res.Statistic))
	if g.Conf.ConfInt {
		q := dist.Quantile(1 - g.Conf.alpha()/2)
		res.CILower = psi - q*res.StdErr
		res.CIUpper = psi + q*res.StdErr
	}
	return res
}

// workingTable copies the outcome and covariates and replaces each exposure
// with its quantile scores. A nil q passes raw exposure values through.
func (g *QGComp) workingTable(sub *dataset.Table, spec model.ModelSpec) (*dataset.Table, error) {
	work := dataset.NewTable()

	copyCol := func(name string) error {
		c, ok := sub.Column(name)
		if !ok {
			return fmt.Errorf("column %q not found", name)
		}
		if c.Kind == dataset.KindNumeric {
			return work.AddNumeric(name, c.Num)
		}
		return work.AddCategorical(name, c.Cat)
	}

	if err := copyCol(spec.Outcome); err != nil {
		return nil, err
	}
	for _, cv := range spec.Covariates {
		if err := copyCol(cv); err != nil {
			return nil, err
		}
	}
	for _, e := range spec.Exposures {
		values, ok := sub.Numeric(e)
		if !ok {
			return nil, fmt.Errorf("exposure %q must be a numeric column", e)
		}
		if g.Q == nil {
			if err := work.AddNumeric(e, values); err != nil {
				return nil, err
			}
			continue
		}
		scores, err := dataset.QuantileScores(values, *g.Q)
		if err != nil {
			return nil, err
		}
		if err := work.AddNumeric(e, scores); err != nil {
			return nil, err
		}
	}
	return work, nil
}

// bootstrapInference keeps the full-data point estimate and derives the
// standard error, p-value, and percentile interval from seeded resamples.
func (g *QGComp) bootstrapInference(ctx context.Context, res model.FitResult, work *dataset.Table, spec model.ModelSpec, terms []string, idx []int) model.FitResult {
	rng := rand.New(rand.NewSource(g.Seed))
	n := work.NumRows()
	psis := make([]float64, 0, g.BootReps)

	for b := 0; b < g.BootReps; b++ {
		if err := ctx.Err(); err != nil {
			return model.FailedFit(PsiTerm, err.Error())
		}
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.Intn(n)
		}
		bd, err := buildDesign(work.SelectRows(sample), spec.Outcome, terms, "", true)
		if err != nil {
			continue
		}
		best, err := fitOLS(bd)
		if err != nil {
			continue
		}
		psi := 0.0
		ok := true
		for _, e := range spec.Exposures {
			j, found := bd.termIndex(e)
			if !found {
				ok = false
				break
			}
			psi += best.coef[j]
		}
		if ok {
			psis = append(psis, psi)
		}
	}

	if len(psis) < g.BootReps/10 {
		return model.FailedFit(PsiTerm,
			fmt.Sprintf("bootstrap produced only %d successful fits of %d", len(psis), g.BootReps))
	}

	se, err := stats.StandardDeviationSample(psis)
	if err != nil || se == 0 {
		return model.FailedFit(PsiTerm, "bootstrap standard error is degenerate")
	}
	res.StdErr = se
	res.Statistic = res.Estimate / se
	res.PValue = 2 * distuv.UnitNormal.CDF(-math.Abs(res.Statistic))

	if g.Conf.ConfInt {
		lo, errLo := stats.Percentile(psis, 100*g.Conf.alpha()/2)
		hi, errHi := stats.Percentile(psis, 100*(1-g.Conf.alpha()/2))
		if errLo == nil && errHi == nil {
			res.CILower = lo
			res.CIUpper = hi
		}
	}
	return res
}
