package app

import (
	"math"
	"strconv"

	"goowas/domain/model"
)

// Columns is the stable column order of presented result tables. Downstream
// consumers (plots, exports) key off these names, so the identity columns
// lead, statistics follow, and diagnostics trail.
var Columns = []string{
	"feature_name",
	"var_name",
	"estimate",
	"se",
	"test_statistic",
	"p_value",
	"ci_lower",
	"ci_upper",
	"adjusted_pval",
	"threshold",
	"n_obs",
	"fit_status",
	"formula",
}

// Present flattens a result table into string records in Columns order,
// header first. Undefined numeric values render as "NA" so failed fits stay
// visible rather than masquerading as zeros.
func Present(t *model.ResultTable) [][]string {
	out := make([][]string, 0, len(t.Rows)+1)
	header := make([]string, len(Columns))
	copy(header, Columns)
	out = append(out, header)

	for _, r := range t.Rows {
		out = append(out, []string{
			r.FeatureName,
			r.VarName,
			formatNum(r.Estimate),
			formatNum(r.StdErr),
			formatNum(r.Statistic),
			formatNum(r.PValue),
			formatNum(r.CILower),
			formatNum(r.CIUpper),
			formatNum(r.AdjustedP),
			r.Threshold,
			strconv.Itoa(r.NObs),
			r.FitStatus,
			r.Formula,
		})
	}
	return out
}

func formatNum(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', 8, 64)
}
