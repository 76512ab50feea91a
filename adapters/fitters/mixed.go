package fitters

import (
	"context"

	"goowas/domain/dataset"
	"goowas/domain/model"
)

// Mixed fits the repeated-measures variant. The random-intercept grouping
// term is folded into the design upstream as per-group intercept shifts,
// after which the model solves like any other linear or logistic fit. The
// reported coefficient, its standard error, and the p-value all refer to
// the feature term, exactly as in the simple variant.
type Mixed struct {
	Conf Config
}

// NewMixed creates a repeated-measures model fitter.
func NewMixed(conf Config) *Mixed {
	return &Mixed{Conf: conf}
}

// Fit requires spec.Group to name the repeated-measures grouping variable.
func (m *Mixed) Fit(ctx context.Context, spec model.ModelSpec, tbl *dataset.Table) model.FitResult {
	if spec.Group == "" {
		return model.FailedFit(spec.Predictor, "grouping variable required for repeated measures")
	}
	return NewGLM(m.Conf).Fit(ctx, spec, tbl)
}
