package dataset

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"goowas/domain/core"
)

// ColumnKind distinguishes the two variable types the engine understands.
type ColumnKind string

const (
	KindNumeric     ColumnKind = "numeric"
	KindCategorical ColumnKind = "categorical"
)

// Column is a single named variable. Numeric columns store values in Num
// (NaN marks a missing value); categorical columns store labels in Cat
// (the empty string marks a missing value).
type Column struct {
	Name string
	Kind ColumnKind
	Num  []float64
	Cat  []string
}

// Len returns the number of observations in the column.
func (c Column) Len() int {
	if c.Kind == KindNumeric {
		return len(c.Num)
	}
	return len(c.Cat)
}

// IsMissing reports whether observation i is missing.
func (c Column) IsMissing(i int) bool {
	if c.Kind == KindNumeric {
		return math.IsNaN(c.Num[i])
	}
	return c.Cat[i] == ""
}

// Table is the canonical data object for all statistical computation:
// observations (rows) by named variables (columns), mixed numeric and
// categorical. The engine treats a table as read-only; analyses that need
// a subset of rows work on a copy produced by SelectRows.
type Table struct {
	cols  []Column
	index map[string]int
	nrows int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{index: make(map[string]int)}
}

func (t *Table) addColumn(c Column) error {
	if c.Name == "" {
		return core.NewConfigError("column", "name must not be empty")
	}
	if _, dup := t.index[c.Name]; dup {
		return core.NewConfigError("column", fmt.Sprintf("duplicate column %q", c.Name))
	}
	if len(t.cols) > 0 && c.Len() != t.nrows {
		return core.NewConfigError("column",
			fmt.Sprintf("column %q has %d rows, table has %d", c.Name, c.Len(), t.nrows))
	}
	if len(t.cols) == 0 {
		t.nrows = c.Len()
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// AddNumeric appends a numeric column. NaN marks missing values.
func (t *Table) AddNumeric(name string, values []float64) error {
	v := make([]float64, len(values))
	copy(v, values)
	return t.addColumn(Column{Name: name, Kind: KindNumeric, Num: v})
}

// AddCategorical appends a categorical column. "" marks missing values.
func (t *Table) AddCategorical(name string, values []string) error {
	v := make([]string, len(values))
	copy(v, values)
	return t.addColumn(Column{Name: name, Kind: KindCategorical, Cat: v})
}

// NumRows returns the number of observations.
func (t *Table) NumRows() int { return t.nrows }

// NumCols returns the number of variables.
func (t *Table) NumCols() int { return len(t.cols) }

// Names returns the column names in insertion order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether a column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the named column. The backing slices are shared with the
// table and must not be mutated by callers.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.cols[i], true
}

// Numeric returns the values of a numeric column.
func (t *Table) Numeric(name string) ([]float64, bool) {
	c, ok := t.Column(name)
	if !ok || c.Kind != KindNumeric {
		return nil, false
	}
	return c.Num, true
}

// CompleteCases returns the indices of rows with no missing value across the
// given columns, in row order. Unknown column names are an error.
func (t *Table) CompleteCases(cols []string) ([]int, error) {
	selected := make([]Column, 0, len(cols))
	for _, name := range cols {
		c, ok := t.Column(name)
		if !ok {
			return nil, core.NewMissingColumnError([]string{name})
		}
		selected = append(selected, c)
	}

	rows := make([]int, 0, t.nrows)
	for i := 0; i < t.nrows; i++ {
		complete := true
		for _, c := range selected {
			if c.IsMissing(i) {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, i)
		}
	}
	return rows, nil
}

// SelectRows returns a new table holding copies of the given rows, in the
// given order. The source table is left untouched.
func (t *Table) SelectRows(rows []int) *Table {
	out := NewTable()
	for _, c := range t.cols {
		nc := Column{Name: c.Name, Kind: c.Kind}
		if c.Kind == KindNumeric {
			nc.Num = make([]float64, len(rows))
			for j, r := range rows {
				nc.Num[j] = c.Num[r]
			}
		} else {
			nc.Cat = make([]string, len(rows))
			for j, r := range rows {
				nc.Cat[j] = c.Cat[r]
			}
		}
		// addColumn cannot fail here: names are unique and lengths agree
		_ = out.addColumn(nc)
	}
	return out
}

// DistinctCount returns the number of distinct non-missing values in a column.
func (t *Table) DistinctCount(name string) int {
	c, ok := t.Column(name)
	if !ok {
		return 0
	}
	if c.Kind == KindNumeric {
		seen := make(map[float64]struct{})
		for i, v := range c.Num {
			if !c.IsMissing(i) {
				seen[v] = struct{}{}
			}
		}
		return len(seen)
	}
	seen := make(map[string]struct{})
	for i, v := range c.Cat {
		if !c.IsMissing(i) {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}

// IsDichotomous reports whether every non-missing value of a numeric column
// is 0 or 1. Categorical columns are never dichotomous in this sense.
func (t *Table) IsDichotomous(name string) bool {
	c, ok := t.Column(name)
	if !ok || c.Kind != KindNumeric {
		return false
	}
	any := false
	for i, v := range c.Num {
		if c.IsMissing(i) {
			continue
		}
		if v != 0 && v != 1 {
			return false
		}
		any = true
	}
	return any
}

// Levels returns the sorted distinct non-missing labels of a categorical
// column, or the formatted distinct values of a numeric one. Sorting keeps
// downstream design matrices deterministic.
func (t *Table) Levels(name string) []string {
	c, ok := t.Column(name)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var levels []string
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			continue
		}
		var label string
		if c.Kind == KindNumeric {
			label = fmt.Sprintf("%g", c.Num[i])
		} else {
			label = c.Cat[i]
		}
		if _, dup := seen[label]; !dup {
			seen[label] = struct{}{}
			levels = append(levels, label)
		}
	}
	sort.Strings(levels)
	return levels
}

// Label returns the string form of observation i of a column, for use as a
// stratum or group key.
func (t *Table) Label(name string, i int) string {
	c, ok := t.Column(name)
	if !ok || c.IsMissing(i) {
		return ""
	}
	if c.Kind == KindNumeric {
		return fmt.Sprintf("%g", c.Num[i])
	}
	return c.Cat[i]
}

// QuantileScores maps values onto ordered quantile indices 0..q-1 using the
// empirical quantiles of the non-missing values. NaN inputs map to NaN.
func QuantileScores(values []float64, q int) ([]float64, error) {
	if q < 2 {
		return nil, core.NewConfigError("q", fmt.Sprintf("quantile count must be >= 2, got %d", q))
	}
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) < q {
		return nil, core.NewConfigError("q",
			fmt.Sprintf("need at least %d non-missing values for %d quantiles, have %d", q, q, len(valid)))
	}
	sort.Float64s(valid)

	breaks := make([]float64, q-1)
	for i := 1; i < q; i++ {
		breaks[i-1] = stat.Quantile(float64(i)/float64(q), stat.Empirical, valid, nil)
	}

	scores := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			scores[i] = math.NaN()
			continue
		}
		s := 0
		for _, b := range breaks {
			if v > b {
				s++
			}
		}
		scores[i] = float64(s)
	}
	return scores, nil
}
