package fitters

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"goowas/domain/core"
	"goowas/domain/dataset"
)

// design is a dense model matrix with named columns, restricted to complete
// cases over every variable the model touches.
type design struct {
	y     []float64
	x     *mat.Dense
	terms []string // column names aligned with x, "(Intercept)" first when present
	sub   *dataset.Table
	n     int
	p     int
}

// buildDesign assembles the response vector and model matrix from a table.
// Numeric terms contribute one column under their own name, so coefficients
// are always found by term name rather than by position. Categorical terms
// expand to indicator columns against their first (sorted) level. The group
// variable, when set, expands the same way right after the intercept. Names
// in extra take part in complete-case filtering without entering the matrix
// (strata variables).
func buildDesign(tbl *dataset.Table, outcome string, terms []string, group string, intercept bool, extra ...string) (*design, error) {
	used := []string{outcome}
	if group != "" {
		used = append(used, group)
	}
	used = append(used, terms...)
	used = append(used, extra...)

	rows, err := tbl.CompleteCases(used)
	if err != nil {
		return nil, err
	}
	sub := tbl.SelectRows(rows)
	n := sub.NumRows()
	if n == 0 {
		return nil, core.NewFitError("no complete cases")
	}

	yCol, ok := sub.Column(outcome)
	if !ok || yCol.Kind != dataset.KindNumeric {
		return nil, core.NewFitError(fmt.Sprintf("outcome %q must be a numeric column", outcome))
	}

	var cols [][]float64
	var names []string
	if intercept {
		one := make([]float64, n)
		for i := range one {
			one[i] = 1
		}
		cols = append(cols, one)
		names = append(names, "(Intercept)")
	}

	appendTerm := func(name string) error {
		c, _ := sub.Column(name)
		if c.Kind == dataset.KindNumeric {
			cols = append(cols, c.Num)
			names = append(names, name)
			return nil
		}
		levels := sub.Levels(name)
		if len(levels) < 2 {
			return core.NewFitError(fmt.Sprintf("categorical term %q has a single level", name))
		}
		for _, lv := range levels[1:] {
			ind := make([]float64, n)
			for i := 0; i < n; i++ {
				if sub.Label(name, i) == lv {
					ind[i] = 1
				}
			}
			cols = append(cols, ind)
			names = append(names, fmt.Sprintf("%s[%s]", name, lv))
		}
		return nil
	}

	if group != "" {
		if err := appendTerm(group); err != nil {
			return nil, err
		}
	}
	for _, t := range terms {
		if err := appendTerm(t); err != nil {
			return nil, err
		}
	}

	p := len(cols)
	if n <= p {
		return nil, core.NewFitError(fmt.Sprintf("%d observations cannot identify %d parameters", n, p))
	}

	x := mat.NewDense(n, p, nil)
	for j, col := range cols {
		for i := 0; i < n; i++ {
			x.Set(i, j, col[i])
		}
	}

	return &design{y: yCol.Num, x: x, terms: names, sub: sub, n: n, p: p}, nil
}

// termIndex finds a model-matrix column by term name.
func (d *design) termIndex(name string) (int, bool) {
	for j, t := range d.terms {
		if t == name {
			return j, true
		}
	}
	return -1, false
}

// row copies row i of the model matrix.
func (d *design) row(i int) []float64 {
	out := make([]float64, d.p)
	mat.Row(out, i, d.x)
	return out
}
