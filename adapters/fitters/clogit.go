package fitters

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"goowas/domain/dataset"
	"goowas/domain/model"
)

// relaxedGradTol accepts a stalled linesearch whose final score is flat.
const relaxedGradTol = 1e-3

// CLogit fits the matched case-control variant: conditional logistic
// regression via the stratified conditional likelihood. Per-stratum
// intercepts cancel out of the likelihood, so the design carries no
// intercept column. Multiple cases within a matched set are handled with
// the Efron (default) or Breslow approximation. The likelihood is maximized
// with BFGS using the analytic gradient; standard errors come from the
// inverse of a finite-difference Hessian at the optimum.
type CLogit struct {
	Conf   Config
	Method model.TieMethod
}

// NewCLogit creates a matched-design model fitter.
func NewCLogit(conf Config, method model.TieMethod) *CLogit {
	if method == "" {
		method = model.Efron
	}
	return &CLogit{Conf: conf, Method: method}
}

// stratum is one matched set: member row indices and which of them are cases.
type stratum struct {
	members []int
	cases   []int
}

// Fit requires a 0/1 case-status outcome and spec.Strata naming the matched
// set variable.
func (c *CLogit) Fit(ctx context.Context, spec model.ModelSpec, tbl *dataset.Table) model.FitResult {
	term := spec.Predictor
	if spec.Strata == "" {
		return model.FailedFit(term, "strata variable required for matched design")
	}

	terms := make([]string, 0, len(spec.Covariates)+1)
	terms = append(terms, spec.Covariates...)
	terms = append(terms, term)

	d, err := buildDesign(tbl, spec.Outcome, terms, "", false, spec.Strata)
	if err != nil {
		return model.FailedFit(term, err.Error())
	}
	for _, v := range d.y {
		if v != 0 && v != 1 {
			return model.FailedFit(term, "case status must be coded 0/1")
		}
	}

	strata := groupStrata(d, spec.Strata)
	if len(strata) == 0 {
		return model.FailedFit(term, "no informative matched sets (each set needs a case and a control)")
	}

	xr := make([][]float64, d.n)
	for i := 0; i < d.n; i++ {
		xr[i] = d.row(i)
	}

	negLL := func(beta []float64) float64 {
		return -condLogLik(beta, xr, strata, c.Method)
	}
	negGrad := func(grad, beta []float64) {
		condScore(grad, beta, xr, strata, c.Method)
		for j := range grad {
			grad[j] = -grad[j]
		}
	}

	problem := optimize.Problem{Func: negLL, Grad: negGrad}
	settings := &optimize.Settings{GradientThreshold: 1e-6}
	start := make([]float64, d.p)

	result, err := optimize.Minimize(problem, start, settings, &optimize.BFGS{})
	if result == nil {
		return model.FailedFit(term, fmt.Sprintf("conditional likelihood did not converge: %v", err))
	}
	if err == nil {
		err = result.Status.Err()
	}
	if err != nil {
		// BFGS linesearches can stall with the optimum already in hand,
		// most often on null effects where the start is near-optimal.
		// Accept the returned point when the score is flat there.
		g := make([]float64, d.p)
		negGrad(g, result.X)
		if floats.Norm(g, 2) > relaxedGradTol {
			return model.FailedFit(term, fmt.Sprintf("conditional likelihood did not converge: %v", err))
		}
	}
	if err := ctx.Err(); err != nil {
		return model.FailedFit(term, err.Error())
	}
	beta := result.X

	hess := numericHessian(negGrad, beta)
	var cov mat.Dense
	if err := cov.Inverse(hess); err != nil {
		return model.FailedFit(term, "information matrix is singular")
	}

	return waldResult(d, estimate{coef: beta, cov: &cov, df: 0}, term, c.Conf)
}

// groupStrata partitions the design rows by stratum label, keeping only
// informative sets (at least one case and one control). Order of first
// appearance is preserved so fits are deterministic.
func groupStrata(d *design, strataVar string) []stratum {
	byLabel := make(map[string]int)
	var strata []stratum
	for i := 0; i < d.n; i++ {
		label := d.sub.Label(strataVar, i)
		k, ok := byLabel[label]
		if !ok {
			k = len(strata)
			byLabel[label] = k
			strata = append(strata, stratum{})
		}
		strata[k].members = append(strata[k].members, i)
		if d.y[i] == 1 {
			strata[k].cases = append(strata[k].cases, i)
		}
	}

	informative := strata[:0]
	for _, s := range strata {
		if len(s.cases) > 0 && len(s.cases) < len(s.members) {
			informative = append(informative, s)
		}
	}
	return informative
}

func linpred(x []float64, beta []float64) float64 {
	e := 0.0
	for j, b := range beta {
		e += x[j] * b
	}
	return e
}

// maxEta returns the largest linear predictor in a stratum. Risk-set sums
// exponentiate relative to it so exp never overflows during line searches,
// without distorting the objective or its gradient.
func maxEta(beta []float64, xr [][]float64, s stratum) float64 {
	m := math.Inf(-1)
	for _, i := range s.members {
		if e := linpred(xr[i], beta); e > m {
			m = e
		}
	}
	return m
}

// condLogLik evaluates the stratified conditional log-likelihood.
func condLogLik(beta []float64, xr [][]float64, strata []stratum, method model.TieMethod) float64 {
	ll := 0.0
	for _, s := range strata {
		nd := float64(len(s.cases))
		m := maxEta(beta, xr, s)
		sumR, sumD, etaCases := 0.0, 0.0, 0.0
		for _, i := range s.members {
			sumR += math.Exp(linpred(xr[i], beta) - m)
		}
		for _, i := range s.cases {
			eta := linpred(xr[i], beta)
			etaCases += eta
			sumD += math.Exp(eta - m)
		}
		ll += etaCases
		if method == model.Breslow {
			ll -= nd * (math.Log(sumR) + m)
			continue
		}
		for l := 0; l < len(s.cases); l++ {
			ll -= math.Log(sumR-float64(l)/nd*sumD) + m
		}
	}
	return ll
}

// condScore writes the gradient of the conditional log-likelihood into grad.
func condScore(grad, beta []float64, xr [][]float64, strata []stratum, method model.TieMethod) {
	p := len(beta)
	for j := range grad {
		grad[j] = 0
	}
	vR := make([]float64, p)
	vD := make([]float64, p)

	for _, s := range strata {
		nd := float64(len(s.cases))
		m := maxEta(beta, xr, s)
		sumR, sumD := 0.0, 0.0
		for j := 0; j < p; j++ {
			vR[j], vD[j] = 0, 0
		}
		for _, i := range s.members {
			r := math.Exp(linpred(xr[i], beta) - m)
			sumR += r
			for j := 0; j < p; j++ {
				vR[j] += r * xr[i][j]
			}
		}
		for _, i := range s.cases {
			r := math.Exp(linpred(xr[i], beta) - m)
			sumD += r
			for j := 0; j < p; j++ {
				vD[j] += r * xr[i][j]
				grad[j] += xr[i][j]
			}
		}

		if method == model.Breslow {
			for j := 0; j < p; j++ {
				grad[j] -= nd * vR[j] / sumR
			}
			continue
		}
		for l := 0; l < len(s.cases); l++ {
			f := float64(l) / nd
			denom := sumR - f*sumD
			for j := 0; j < p; j++ {
				grad[j] -= (vR[j] - f*vD[j]) / denom
			}
		}
	}
}

// numericHessian approximates the Hessian of the objective by central
// differences of its gradient, symmetrized.
func numericHessian(gradFn func(grad, x []float64), x []float64) *mat.Dense {
	p := len(x)
	hess := mat.NewDense(p, p, nil)
	gp := make([]float64, p)
	gm := make([]float64, p)
	xt := make([]float64, p)

	for j := 0; j < p; j++ {
		h := 1e-5 * (1 + math.Abs(x[j]))
		copy(xt, x)
		xt[j] = x[j] + h
		gradFn(gp, xt)
		xt[j] = x[j] - h
		gradFn(gm, xt)
		for i := 0; i < p; i++ {
			hess.Set(i, j, (gp[i]-gm[i])/(2*h))
		}
	}
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			m := (hess.At(i, j) + hess.At(j, i)) / 2
			hess.Set(i, j, m)
			hess.Set(j, i, m)
		}
	}
	return hess
}
