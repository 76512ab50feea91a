package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"goowas/adapters/postgres"
	"goowas/adapters/tabular"
	"goowas/app"
	"goowas/domain/model"
	"goowas/internal"
	"goowas/internal/config"
)

type commonFlags struct {
	input      string
	output     string
	features   []string
	covariates []string
	confLevel  float64
	confInt    bool
	noCheck    bool
	workers    int
	countFail  bool
	saveDB     bool
}

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "owas",
		Short: "Omics-wide association analyses over tabular study data",
	}

	rootCmd.AddCommand(
		newRunCmd(cfg),
		newMixedCmd(cfg),
		newCLogitCmd(cfg),
		newQGCompCmd(cfg),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command, f *commonFlags, cfg config.Config) {
	cmd.Flags().StringVar(&f.input, "input", "", "Input table (.csv or .xlsx, Sheet1)")
	cmd.Flags().StringVar(&f.output, "output", "", "Output CSV path (default: stdout)")
	cmd.Flags().StringSliceVar(&f.features, "features", nil, "Omics feature columns")
	cmd.Flags().StringSliceVar(&f.covariates, "covariates", nil, "Adjustment covariate columns")
	cmd.Flags().Float64Var(&f.confLevel, "conf-level", 0.95, "Confidence level")
	cmd.Flags().BoolVar(&f.confInt, "ci", false, "Compute confidence intervals")
	cmd.Flags().BoolVar(&f.noCheck, "no-check", false, "Skip the zero-variance data check")
	cmd.Flags().IntVar(&f.workers, "workers", cfg.Workers, "Parallel fit workers")
	cmd.Flags().BoolVar(&f.countFail, "count-failed", false, "Keep failed fits in the FDR denominator")
	cmd.Flags().BoolVar(&f.saveDB, "save", false, "Persist results to Postgres (DATABASE_URL)")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("features")
}

func (f *commonFlags) options() app.Options {
	return app.Options{
		ConfidenceLevel:  f.confLevel,
		ConfInt:          f.confInt,
		CheckData:        !f.noCheck,
		Workers:          f.workers,
		CountFailedTests: f.countFail,
	}
}

func newRunCmd(cfg config.Config) *cobra.Command {
	var f commonFlags
	var variables []string
	var family, role string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "One linear or logistic model per feature",
		Long: `Fit one regression per feature x variable of interest and correct the
p-values over the whole batch.

Example: owas run --input cohort.csv --features feat_001,feat_002 \
  --variables outcome --family binomial --covariates age,sex --ci`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := tabular.NewReader(f.input).Read()
			if err != nil {
				return err
			}
			svc := app.NewService(internal.NewDefaultLogger())
			table, err := svc.Owas(cmd.Context(), app.OwasRequest{
				Table:      tbl,
				Variables:  variables,
				Features:   f.features,
				Covariates: f.covariates,
				Family:     family,
				Role:       app.VariableRole(role),
				Options:    f.options(),
			})
			if err != nil {
				return err
			}
			return emit(cmd.Context(), cfg, f, table)
		},
	}

	addCommonFlags(cmd, &f, cfg)
	cmd.Flags().StringSliceVar(&variables, "variables", nil, "Variables of interest")
	cmd.Flags().StringVar(&family, "family", "gaussian", "Model family: gaussian|binomial")
	cmd.Flags().StringVar(&role, "role", "", "Variable role: outcome (default) or exposure")
	_ = cmd.MarkFlagRequired("variables")
	return cmd
}

func newMixedCmd(cfg config.Config) *cobra.Command {
	var f commonFlags
	var variables []string
	var family, role, group string

	cmd := &cobra.Command{
		Use:   "mixed",
		Short: "Repeated-measures models with a grouping term",
		Long: `Fit one repeated-measures model per feature, folding the grouping
variable (e.g. subject id) into each model.

Example: owas mixed --input visits.csv --features feat_001 \
  --variables continuous_outcome --family gaussian --group subject_id`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := tabular.NewReader(f.input).Read()
			if err != nil {
				return err
			}
			svc := app.NewService(internal.NewDefaultLogger())
			table, err := svc.OwasMixed(cmd.Context(), app.OwasMixedRequest{
				OwasRequest: app.OwasRequest{
					Table:      tbl,
					Variables:  variables,
					Features:   f.features,
					Covariates: f.covariates,
					Family:     family,
					Role:       app.VariableRole(role),
					Options:    f.options(),
				},
				GroupVar: group,
			})
			if err != nil {
				return err
			}
			return emit(cmd.Context(), cfg, f, table)
		},
	}

	addCommonFlags(cmd, &f, cfg)
	cmd.Flags().StringSliceVar(&variables, "variables", nil, "Variables of interest")
	cmd.Flags().StringVar(&family, "family", "gaussian", "Model family: gaussian|binomial")
	cmd.Flags().StringVar(&role, "role", "", "Variable role: outcome (default) or exposure")
	cmd.Flags().StringVar(&group, "group", "", "Repeated-measures grouping column")
	_ = cmd.MarkFlagRequired("variables")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func newCLogitCmd(cfg config.Config) *cobra.Command {
	var f commonFlags
	var caseVar, strata, method string

	cmd := &cobra.Command{
		Use:   "clogit",
		Short: "Conditional logistic models over matched sets",
		Long: `Fit one conditional logistic model per feature across matched
case-control sets.

Example: owas clogit --input matched.csv --features feat_001 \
  --case case_status --strata set_id --method efron`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := tabular.NewReader(f.input).Read()
			if err != nil {
				return err
			}
			svc := app.NewService(internal.NewDefaultLogger())
			table, err := svc.OwasCLogit(cmd.Context(), app.OwasCLogitRequest{
				Table:      tbl,
				CaseVar:    caseVar,
				Features:   f.features,
				Covariates: f.covariates,
				StrataVar:  strata,
				Method:     method,
				Options:    f.options(),
			})
			if err != nil {
				return err
			}
			return emit(cmd.Context(), cfg, f, table)
		},
	}

	addCommonFlags(cmd, &f, cfg)
	cmd.Flags().StringVar(&caseVar, "case", "", "0/1 case status column")
	cmd.Flags().StringVar(&strata, "strata", "", "Matched set identifier column")
	cmd.Flags().StringVar(&method, "method", "efron", "Tie handling: efron|breslow")
	_ = cmd.MarkFlagRequired("case")
	_ = cmd.MarkFlagRequired("strata")
	return cmd
}

func newQGCompCmd(cfg config.Config) *cobra.Command {
	var f commonFlags
	var exposures []string
	var q int
	var rawExposures, bootstrap bool
	var reps int
	var seed int64

	cmd := &cobra.Command{
		Use:   "qgcomp",
		Short: "Quantile g-computation mixture models",
		Long: `Fit one joint exposure-mixture model per feature. Exposures are scored
into quantiles unless --raw keeps their original values (required for
dichotomous exposures).

Example: owas qgcomp --input cohort.csv --features feat_001 \
  --exposures exp_01,exp_02,exp_03 --q 4 --bootstrap --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := tabular.NewReader(f.input).Read()
			if err != nil {
				return err
			}
			var qPtr *int
			if !rawExposures {
				qPtr = &q
			}
			svc := app.NewService(internal.NewDefaultLogger())
			table, err := svc.OwasQGComp(cmd.Context(), app.OwasQGCompRequest{
				Table:         tbl,
				Exposures:     exposures,
				Features:      f.features,
				Covariates:    f.covariates,
				Q:             qPtr,
				Bootstrap:     bootstrap,
				BootstrapReps: reps,
				Seed:          seed,
				Options:       f.options(),
			})
			if err != nil {
				return err
			}
			return emit(cmd.Context(), cfg, f, table)
		},
	}

	addCommonFlags(cmd, &f, cfg)
	cmd.Flags().StringSliceVar(&exposures, "exposures", nil, "Mixture exposure columns")
	cmd.Flags().IntVar(&q, "q", 4, "Quantile count for exposure scoring")
	cmd.Flags().BoolVar(&rawExposures, "raw", false, "Keep raw exposure values (no quantile scoring)")
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "Bootstrap inference for the mixture effect")
	cmd.Flags().IntVar(&reps, "reps", 200, "Bootstrap replicates")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for bootstrap resampling")
	_ = cmd.MarkFlagRequired("exposures")
	return cmd
}

// emit writes the presented table as CSV and optionally persists it.
func emit(ctx context.Context, cfg config.Config, f commonFlags, table *model.ResultTable) error {
	records := app.Present(table)

	out := os.Stdout
	if f.output != "" {
		file, err := os.Create(f.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}
	w := csv.NewWriter(out)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if f.saveDB {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("--save requires DATABASE_URL to be set")
		}
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if err := postgres.NewResultRepository(db).Save(ctx, table); err != nil {
			return fmt.Errorf("failed to persist results: %w", err)
		}
		fmt.Fprintf(os.Stderr, "saved run %s (%d rows)\n", table.RunID, len(table.Rows))
	}

	if f.output != "" {
		fmt.Fprintf(os.Stderr, "wrote %d result rows to %s\n", len(table.Rows), f.output)
	}
	return nil
}
