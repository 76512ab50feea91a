package postgres

import (
	"context"
	"encoding/json"
	"math"

	"github.com/jmoiron/sqlx"

	"goowas/domain/model"
	"goowas/ports"
)

// ResultRepositoryImpl persists analysis result tables to PostgreSQL.
type ResultRepositoryImpl struct {
	db *sqlx.DB
}

// NewResultRepository creates a PostgreSQL result repository.
func NewResultRepository(db *sqlx.DB) ports.ResultRepository {
	return &ResultRepositoryImpl{db: db}
}

// Save writes the run header and one row per fitted model. NaN statistics are
// stored as NULL since Postgres double precision rejects NaN through the
// driver in a portable way only via pointers.
func (r *ResultRepositoryImpl) Save(ctx context.Context, t *model.ResultTable) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analysis_runs (id, analysis, confidence_level, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		string(t.RunID), t.Analysis, t.ConfidenceLevel, t.CreatedAt)
	if err != nil {
		return err
	}

	for _, row := range t.Rows {
		var partialsJSON []byte
		if len(row.Partials) > 0 {
			partialsJSON, _ = json.Marshal(row.Partials)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO analysis_results (
				run_id, feature_name, var_name, estimate, se, test_statistic,
				p_value, ci_lower, ci_upper, adjusted_pval, threshold,
				n_obs, fit_status, formula, partials
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			string(t.RunID), row.FeatureName, row.VarName,
			nullable(row.Estimate), nullable(row.StdErr), nullable(row.Statistic),
			nullable(row.PValue), nullable(row.CILower), nullable(row.CIUpper),
			nullable(row.AdjustedP), row.Threshold,
			row.NObs, row.FitStatus, row.Formula, partialsJSON)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
