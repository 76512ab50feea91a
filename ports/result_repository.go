package ports

import (
	"context"

	"goowas/domain/model"
)

// ResultRepository persists finished result tables.
type ResultRepository interface {
	Save(ctx context.Context, table *model.ResultTable) error
}
