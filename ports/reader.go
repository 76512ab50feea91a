package ports

import (
	"goowas/domain/dataset"
)

// TableReader loads a dataset from an external source into a Table.
type TableReader interface {
	Read() (*dataset.Table, error)
}
