package fitters

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"goowas/domain/core"
	"goowas/domain/dataset"
	"goowas/domain/model"
)

// Config carries the options every fitter variant shares.
type Config struct {
	ConfidenceLevel float64
	ConfInt         bool
}

func (c Config) alpha() float64 { return 1 - c.ConfidenceLevel }

// estimate is the raw output of one solved model: coefficients, their
// covariance, and the residual degrees of freedom (0 means large-sample
// normal inference).
type estimate struct {
	coef []float64
	cov  *mat.Dense
	df   float64
}

// GLM fits ordinary (gaussian) and logistic (binomial) regression for one
// feature at a time. Gaussian models solve least squares through a QR
// decomposition; binomial models run iteratively reweighted least squares
// with Cholesky solves.
type GLM struct {
	Conf Config
}

// NewGLM creates a linear/logistic model fitter.
func NewGLM(conf Config) *GLM {
	return &GLM{Conf: conf}
}

// Fit fits one model described by spec and extracts the predictor's
// coefficient by term name.
func (g *GLM) Fit(ctx context.Context, spec model.ModelSpec, tbl *dataset.Table) model.FitResult {
	terms := make([]string, 0, len(spec.Covariates)+1)
	terms = append(terms, spec.Covariates...)
	terms = append(terms, spec.Predictor)

	d, err := buildDesign(tbl, spec.Outcome, terms, spec.Group, true)
	if err != nil {
		return model.FailedFit(spec.Predictor, err.Error())
	}

	var est estimate
	switch spec.Family {
	case model.Gaussian:
		est, err = fitOLS(d)
	case model.Binomial:
		est, err = fitLogistic(ctx, d)
	default:
		return model.FailedFit(spec.Predictor, fmt.Sprintf("unsupported family %q", spec.Family))
	}
	if err != nil {
		return model.FailedFit(spec.Predictor, err.Error())
	}

	return waldResult(d, est, spec.Predictor, g.Conf)
}

// fitOLS solves least squares via QR and derives the coefficient covariance
// from the residual variance.
func fitOLS(d *design) (estimate, error) {
	var qr mat.QR
	qr.Factorize(d.x)

	yv := mat.NewVecDense(d.n, d.y)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, yv); err != nil {
		return estimate{}, core.NewFitError("singular design matrix")
	}

	var fitted mat.VecDense
	fitted.MulVec(d.x, &beta)
	rss := 0.0
	for i := 0; i < d.n; i++ {
		r := d.y[i] - fitted.AtVec(i)
		rss += r * r
	}
	df := float64(d.n - d.p)
	sigma2 := rss / df

	var xtx, inv mat.Dense
	xtx.Mul(d.x.T(), d.x)
	if err := inv.Inverse(&xtx); err != nil {
		return estimate{}, core.NewFitError("singular design matrix")
	}
	inv.Scale(sigma2, &inv)

	coef := make([]float64, d.p)
	for j := 0; j < d.p; j++ {
		coef[j] = beta.AtVec(j)
	}
	return estimate{coef: coef, cov: &inv, df: df}, nil
}

// fitLogistic runs IRLS for a binomial model with logit link. The outcome
// must be coded 0/1.
func fitLogistic(ctx context.Context, d *design) (estimate, error) {
	for _, v := range d.y {
		if v != 0 && v != 1 {
			return estimate{}, core.NewFitError("binomial outcome must be coded 0/1")
		}
	}

	const (
		maxIter = 30
		tol     = 1e-8
	)

	beta := make([]float64, d.p)
	eta := make([]float64, d.n)
	xtwz := make([]float64, d.p)
	xtwx := mat.NewSymDense(d.p, nil)
	var chol mat.Cholesky

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return estimate{}, err
		}

		// Working response and weights for the current linear predictor
		for i := 0; i < d.n; i++ {
			e := 0.0
			for j := 0; j < d.p; j++ {
				e += d.x.At(i, j) * beta[j]
			}
			eta[i] = e
		}

		for a := 0; a < d.p; a++ {
			xtwz[a] = 0
			for b := a; b < d.p; b++ {
				xtwx.SetSym(a, b, 0)
			}
		}
		for i := 0; i < d.n; i++ {
			mu := 1 / (1 + math.Exp(-eta[i]))
			w := mu * (1 - mu)
			if w < 1e-10 {
				w = 1e-10
			}
			z := eta[i] + (d.y[i]-mu)/w
			for a := 0; a < d.p; a++ {
				xa := d.x.At(i, a)
				xtwz[a] += w * xa * z
				for b := a; b < d.p; b++ {
					xtwx.SetSym(a, b, xtwx.At(a, b)+w*xa*d.x.At(i, b))
				}
			}
		}

		if ok := chol.Factorize(xtwx); !ok {
			return estimate{}, core.NewFitError("singular weighted design matrix")
		}
		var next mat.VecDense
		if err := chol.SolveVecTo(&next, mat.NewVecDense(d.p, xtwz)); err != nil {
			return estimate{}, core.NewFitError("singular weighted design matrix")
		}

		delta := 0.0
		for j := 0; j < d.p; j++ {
			step := math.Abs(next.AtVec(j) - beta[j])
			if step > delta {
				delta = step
			}
			beta[j] = next.AtVec(j)
		}

		if delta < tol {
			var covSym mat.SymDense
			if err := chol.InverseTo(&covSym); err != nil {
				return estimate{}, core.NewFitError("information matrix is singular")
			}
			return estimate{coef: beta, cov: mat.DenseCopyOf(&covSym), df: 0}, nil
		}
	}

	return estimate{}, core.NewFitError(fmt.Sprintf("IRLS did not converge in %d iterations", maxIter))
}

// waldResult extracts the predictor's coefficient by term name and derives
// Wald statistics: t-based when residual degrees of freedom are available,
// large-sample normal otherwise.
func waldResult(d *design, est estimate, term string, conf Config) model.FitResult {
	j, ok := d.termIndex(term)
	if !ok {
		return model.FailedFit(term, fmt.Sprintf("term %q not found in fitted model", term))
	}

	coef := est.coef[j]
	se := math.Sqrt(est.cov.At(j, j))
	stat := coef / se

	res := model.FitResult{
		Term:      term,
		Estimate:  coef,
		StdErr:    se,
		Statistic: stat,
		CILower:   math.NaN(),
		CIUpper:   math.NaN(),
		NObs:      d.n,
		Success:   true,
	}

	if est.df > 0 {
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: est.df}
		res.PValue = 2 * dist.CDF(-math.Abs(stat))
		if conf.ConfInt {
			q := dist.Quantile(1 - conf.alpha()/2)
			res.CILower = coef - q*se
			res.CIUpper = coef + q*se
		}
	} else {
		res.PValue = 2 * distuv.UnitNormal.CDF(-math.Abs(stat))
		if conf.ConfInt {
			q := distuv.UnitNormal.Quantile(1 - conf.alpha()/2)
			res.CILower = coef - q*se
			res.CIUpper = coef + q*se
		}
	}
	return res
}
