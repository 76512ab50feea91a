package check

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"goowas/domain/core"
	"goowas/domain/dataset"
)

// Verify fails fast before any model is fit. Every required column must
// exist; when varianceCheck is enabled each must also show non-zero
// variation among complete cases, since a constant column cannot support a
// regression coefficient. The input table is never modified.
//
// The variation measure is sample variance for numeric columns and
// (distinct values - 1) for categorical ones.
func Verify(tbl *dataset.Table, required []string, varianceCheck bool) error {
	cols := dedupe(required)

	var missing []string
	for _, name := range cols {
		if !tbl.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return core.NewMissingColumnError(missing)
	}

	if !varianceCheck {
		return nil
	}

	rows, err := tbl.CompleteCases(cols)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: no complete cases across required columns", core.ErrInsufficientData)
	}
	sub := tbl.SelectRows(rows)

	var flat []string
	for _, name := range cols {
		c, _ := sub.Column(name)
		if c.Kind == dataset.KindNumeric {
			v := 0.0
			if len(c.Num) >= 2 {
				v, _ = stats.SampleVariance(c.Num)
			}
			if v == 0 {
				flat = append(flat, name)
			}
		} else {
			if sub.DistinctCount(name)-1 == 0 {
				flat = append(flat, name)
			}
		}
	}
	if len(flat) > 0 {
		return core.NewZeroVarianceError(flat)
	}
	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
