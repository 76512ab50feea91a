package ports

import (
	"context"

	"goowas/domain/dataset"
	"goowas/domain/model"
)

// ModelFitter fits exactly one model for one feature and returns the
// normalized statistic bundle. Implementations must report numerical
// failures (singular design, non-convergence) through FitResult, not
// through panics or batch-level errors.
type ModelFitter interface {
	Fit(ctx context.Context, spec model.ModelSpec, tbl *dataset.Table) model.FitResult
}
