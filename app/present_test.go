package app

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goowas/domain/core"
	"goowas/domain/model"
)

func TestPresent_StableColumnsAndNA(t *testing.T) {
	table := &model.ResultTable{
		RunID:           core.RunID("run-1"),
		Analysis:        "owas",
		ConfidenceLevel: 0.95,
		CreatedAt:       time.Now(),
		Rows: []model.Row{
			{
				FeatureName: "feat_001",
				VarName:     "outcome",
				Estimate:    1.25,
				StdErr:      0.5,
				Statistic:   2.5,
				PValue:      0.0124,
				CILower:     0.27,
				CIUpper:     2.23,
				AdjustedP:   0.0248,
				Threshold:   model.Significant,
				FitStatus:   model.FitStatusOK,
				Formula:     "outcome ~ feat_001",
				NObs:        100,
			},
			{
				FeatureName: "feat_002",
				VarName:     "outcome",
				Estimate:    math.NaN(),
				StdErr:      math.NaN(),
				Statistic:   math.NaN(),
				PValue:      math.NaN(),
				CILower:     math.NaN(),
				CIUpper:     math.NaN(),
				AdjustedP:   math.NaN(),
				Threshold:   "",
				FitStatus:   "singular design matrix",
				Formula:     "outcome ~ feat_002",
				NObs:        0,
			},
		},
	}

	records := Present(table)
	require.Len(t, records, 3)
	assert.Equal(t, Columns, records[0])

	for _, rec := range records[1:] {
		require.Len(t, rec, len(Columns))
	}

	ok := records[1]
	assert.Equal(t, "feat_001", ok[0])
	assert.Equal(t, "outcome", ok[1])
	assert.Equal(t, "1.25", ok[2])
	assert.Equal(t, "Significant", ok[9])
	assert.Equal(t, "100", ok[10])
	assert.Equal(t, "ok", ok[11])

	failed := records[2]
	assert.Equal(t, "feat_002", failed[0])
	for _, i := range []int{2, 3, 4, 5, 6, 7, 8} {
		assert.Equal(t, "NA", failed[i], "column %s", Columns[i])
	}
	assert.Equal(t, "", failed[9])
	assert.Equal(t, "singular design matrix", failed[11])
}
