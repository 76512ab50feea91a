package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"goowas/adapters/fitters"
	"goowas/domain/core"
	"goowas/domain/dataset"
	"goowas/domain/model"
	"goowas/internal"
	"goowas/internal/check"
	"goowas/internal/formula"
	"goowas/internal/padjust"
	"goowas/ports"
)

// VariableRole states which side of the regression the variable of interest
// sits on.
type VariableRole string

const (
	// VariableAsOutcome: the variable of interest is the response and each
	// feature is the predictor under test.
	VariableAsOutcome VariableRole = "outcome"
	// VariableAsExposure: each feature is the response and the variable of
	// interest is the predictor under test.
	VariableAsExposure VariableRole = "exposure"
)

// Options are the knobs shared by every analysis entry point.
type Options struct {
	// ConfidenceLevel sets alpha = 1 - ConfidenceLevel for thresholding and
	// interval width. Zero means 0.95.
	ConfidenceLevel float64
	// ConfInt enables confidence interval computation.
	ConfInt bool
	// CheckData enables the zero-variance pre-check. Missing columns are
	// always checked regardless.
	CheckData bool
	// Workers bounds the per-feature fit parallelism. Zero means sequential.
	Workers int
	// CountFailedTests keeps failed fits in the FDR correction denominator.
	// By default failed fits carry no p-value and are excluded.
	CountFailedTests bool
}

// DefaultOptions returns the documented defaults: 95% confidence, data
// check on, sequential fitting.
func DefaultOptions() Options {
	return Options{ConfidenceLevel: 0.95, CheckData: true, Workers: 1}
}

func (o *Options) normalize() error {
	if o.ConfidenceLevel == 0 {
		o.ConfidenceLevel = 0.95
	}
	if o.ConfidenceLevel <= 0 || o.ConfidenceLevel >= 1 {
		return core.NewConfigError("confidence_level",
			fmt.Sprintf("must be strictly between 0 and 1, got %g", o.ConfidenceLevel))
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return nil
}

func (o Options) fitterConfig() fitters.Config {
	return fitters.Config{ConfidenceLevel: o.ConfidenceLevel, ConfInt: o.ConfInt}
}

// Service runs omics-wide association analyses: one regression per feature,
// aggregated into a single result table with batch FDR correction.
type Service struct {
	log *internal.Logger
}

// NewService creates an analysis service. A nil logger falls back to the
// LOG_LEVEL-configured default.
func NewService(logger *internal.Logger) *Service {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &Service{log: logger}
}

// fitJob is one scheduled model fit and its identity in the output table.
type fitJob struct {
	feature string
	varName string
	spec    model.ModelSpec
}

// OwasRequest configures the standard per-feature linear/logistic analysis.
type OwasRequest struct {
	Table      *dataset.Table
	Variables  []string // variables of interest (exposure or outcome per Role)
	Features   []string // omics feature columns, output row order
	Covariates []string
	Family     string       // "gaussian" or "binomial"
	Role       VariableRole // empty means VariableAsOutcome
	Options    Options
	Fitter     ports.ModelFitter // optional override, mainly for tests
}

// Owas fits one linear or logistic model per feature x variable of interest.
func (s *Service) Owas(ctx context.Context, req OwasRequest) (*model.ResultTable, error) {
	fam, err := model.ParseFamily(req.Family)
	if err != nil {
		return nil, err
	}
	if err := req.Options.normalize(); err != nil {
		return nil, err
	}
	if len(req.Features) == 0 {
		return nil, core.NewConfigError("features", "at least one feature is required")
	}
	if len(req.Variables) == 0 {
		return nil, core.NewConfigError("variables", "at least one variable of interest is required")
	}
	role := req.Role
	if role == "" {
		role = VariableAsOutcome
	}
	if role != VariableAsOutcome && role != VariableAsExposure {
		return nil, core.NewConfigError("role", fmt.Sprintf("unknown variable role %q", role))
	}

	required := append(append(append([]string{}, req.Variables...), req.Features...), req.Covariates...)
	if err := check.Verify(req.Table, required, req.Options.CheckData); err != nil {
		return nil, err
	}
	if fam == model.Binomial && role == VariableAsOutcome {
		for _, v := range req.Variables {
			if !req.Table.IsDichotomous(v) {
				return nil, core.NewConfigError("family",
					fmt.Sprintf("binomial outcome %q must be coded 0/1", v))
			}
		}
	}

	fitter := req.Fitter
	if fitter == nil {
		fitter = fitters.NewGLM(req.Options.fitterConfig())
	}

	jobs := make([]fitJob, 0, len(req.Features)*len(req.Variables))
	for _, f := range req.Features {
		for _, v := range req.Variables {
			outcome, predictor := v, f
			if role == VariableAsExposure {
				outcome, predictor = f, v
			}
			form, term := formula.Build(formula.Spec{
				Outcome:    outcome,
				Predictor:  predictor,
				Covariates: req.Covariates,
			})
			jobs = append(jobs, fitJob{
				feature: f,
				varName: v,
				spec: model.ModelSpec{
					Outcome:    outcome,
					Predictor:  term,
					Covariates: req.Covariates,
					Family:     fam,
					Formula:    form,
				},
			})
		}
	}

	s.log.Info("owas: fitting %d models (%d features x %d variables, family=%s)",
		len(jobs), len(req.Features), len(req.Variables), fam)
	return s.runBatch(ctx, "owas", req.Table, jobs, fitter, req.Options)
}

// OwasMixedRequest configures the repeated-measures analysis.
type OwasMixedRequest struct {
	OwasRequest
	GroupVar string // repeated-measures grouping variable (e.g. subject id)
}

// OwasMixed fits one repeated-measures model per feature x variable of
// interest, with the grouping term folded into each model.
func (s *Service) OwasMixed(ctx context.Context, req OwasMixedRequest) (*model.ResultTable, error) {
	if req.GroupVar == "" {
		return nil, core.NewConfigError("group", "grouping variable is required for repeated measures")
	}
	fam, err := model.ParseFamily(req.Family)
	if err != nil {
		return nil, err
	}
	if err := req.Options.normalize(); err != nil {
		return nil, err
	}
	if len(req.Features) == 0 {
		return nil, core.NewConfigError("features", "at least one feature is required")
	}
	if len(req.Variables) == 0 {
		return nil, core.NewConfigError("variables", "at least one variable of interest is required")
	}
	role := req.Role
	if role == "" {
		role = VariableAsOutcome
	}
	if role != VariableAsOutcome && role != VariableAsExposure {
		return nil, core.NewConfigError("role", fmt.Sprintf("unknown variable role %q", role))
	}

	required := append(append(append([]string{req.GroupVar}, req.Variables...), req.Features...), req.Covariates...)
	if err := check.Verify(req.Table, required, req.Options.CheckData); err != nil {
		return nil, err
	}
	if fam == model.Binomial && role == VariableAsOutcome {
		for _, v := range req.Variables {
			if !req.Table.IsDichotomous(v) {
				return nil, core.NewConfigError("family",
					fmt.Sprintf("binomial outcome %q must be coded 0/1", v))
			}
		}
	}

	fitter := req.Fitter
	if fitter == nil {
		fitter = fitters.NewMixed(req.Options.fitterConfig())
	}

	jobs := make([]fitJob, 0, len(req.Features)*len(req.Variables))
	for _, f := range req.Features {
		for _, v := range req.Variables {
			outcome, predictor := v, f
			if role == VariableAsExposure {
				outcome, predictor = f, v
			}
			form, term := formula.Build(formula.Spec{
				Outcome:    outcome,
				Predictor:  predictor,
				Covariates: req.Covariates,
				Group:      req.GroupVar,
			})
			jobs = append(jobs, fitJob{
				feature: f,
				varName: v,
				spec: model.ModelSpec{
					Outcome:    outcome,
					Predictor:  term,
					Covariates: req.Covariates,
					Group:      req.GroupVar,
					Family:     fam,
					Formula:    form,
				},
			})
		}
	}

	s.log.Info("owas_mixed: fitting %d models grouped by %q", len(jobs), req.GroupVar)
	return s.runBatch(ctx, "owas_mixed", req.Table, jobs, fitter, req.Options)
}

// OwasCLogitRequest configures the matched case-control analysis.
type OwasCLogitRequest struct {
	Table      *dataset.Table
	CaseVar    string // 0/1 case status
	Features   []string
	Covariates []string
	StrataVar  string // matched set identifier
	Method     string // "efron" (default) or "breslow"
	Options    Options
	Fitter     ports.ModelFitter
}

// OwasCLogit fits one conditional logistic model per feature across matched
// case-control sets.
func (s *Service) OwasCLogit(ctx context.Context, req OwasCLogitRequest) (*model.ResultTable, error) {
	method, err := model.ParseTieMethod(req.Method)
	if err != nil {
		return nil, err
	}
	if err := req.Options.normalize(); err != nil {
		return nil, err
	}
	if len(req.Features) == 0 {
		return nil, core.NewConfigError("features", "at least one feature is required")
	}
	if req.CaseVar == "" {
		return nil, core.NewConfigError("case_var", "case status variable is required")
	}
	if req.StrataVar == "" {
		return nil, core.NewConfigError("strata", "strata variable is required for matched design")
	}

	required := append(append([]string{req.CaseVar, req.StrataVar}, req.Features...), req.Covariates...)
	if err := check.Verify(req.Table, required, req.Options.CheckData); err != nil {
		return nil, err
	}
	if !req.Table.IsDichotomous(req.CaseVar) {
		return nil, core.NewConfigError("case_var",
			fmt.Sprintf("case status %q must be coded 0/1", req.CaseVar))
	}

	fitter := req.Fitter
	if fitter == nil {
		fitter = fitters.NewCLogit(req.Options.fitterConfig(), method)
	}

	jobs := make([]fitJob, 0, len(req.Features))
	for _, f := range req.Features {
		form, term := formula.Build(formula.Spec{
			Outcome:    req.CaseVar,
			Predictor:  f,
			Covariates: req.Covariates,
			Strata:     req.StrataVar,
		})
		jobs = append(jobs, fitJob{
			feature: f,
			varName: req.CaseVar,
			spec: model.ModelSpec{
				Outcome:    req.CaseVar,
				Predictor:  term,
				Covariates: req.Covariates,
				Strata:     req.StrataVar,
				Family:     model.Binomial,
				Formula:    form,
			},
		})
	}

	s.log.Info("owas_clogit: fitting %d models stratified by %q (method=%s)",
		len(jobs), req.StrataVar, method)
	return s.runBatch(ctx, "owas_clogit", req.Table, jobs, fitter, req.Options)
}

// OwasQGCompRequest configures the exposure-mixture analysis.
type OwasQGCompRequest struct {
	Table      *dataset.Table
	Exposures  []string // the mixture
	Features   []string // omics features, one joint model each
	Covariates []string
	// Q is the quantile count; nil keeps raw exposure values, which is
	// required when exposures are already 0/1 dichotomous.
	Q             *int
	Bootstrap     bool
	BootstrapReps int
	Seed          int64
	Options       Options
	Fitter        ports.ModelFitter
}

// OwasQGComp fits one quantile g-computation mixture model per feature.
func (s *Service) OwasQGComp(ctx context.Context, req OwasQGCompRequest) (*model.ResultTable, error) {
	if err := req.Options.normalize(); err != nil {
		return nil, err
	}
	if len(req.Features) == 0 {
		return nil, core.NewConfigError("features", "at least one feature is required")
	}
	if len(req.Exposures) == 0 {
		return nil, core.NewConfigError("exposures", "at least one exposure is required")
	}
	if req.Q != nil && *req.Q < 2 {
		return nil, core.NewConfigError("q", fmt.Sprintf("quantile count must be >= 2, got %d", *req.Q))
	}

	required := append(append(append([]string{}, req.Exposures...), req.Features...), req.Covariates...)
	if err := check.Verify(req.Table, required, req.Options.CheckData); err != nil {
		return nil, err
	}
	for _, e := range req.Exposures {
		if _, ok := req.Table.Numeric(e); !ok {
			return nil, core.NewConfigError("exposures",
				fmt.Sprintf("exposure %q must be a numeric column", e))
		}
		if req.Q != nil && req.Table.IsDichotomous(e) {
			return nil, core.NewConfigError("q",
				fmt.Sprintf("exposure %q is dichotomous; use a nil quantile count so raw values are kept", e))
		}
	}

	fitter := req.Fitter
	if fitter == nil {
		fitter = fitters.NewQGComp(req.Options.fitterConfig(), req.Q, req.Bootstrap, req.BootstrapReps, req.Seed)
	}

	jobs := make([]fitJob, 0, len(req.Features))
	for _, f := range req.Features {
		jobs = append(jobs, fitJob{
			feature: f,
			varName: "mixture",
			spec: model.ModelSpec{
				Outcome:    f,
				Predictor:  fitters.PsiTerm,
				Covariates: req.Covariates,
				Exposures:  req.Exposures,
				Family:     model.Gaussian,
				Formula:    formula.BuildMixture(f, req.Exposures, req.Covariates),
			},
		})
	}

	s.log.Info("owas_qgcomp: fitting %d mixture models over %d exposures (bootstrap=%v)",
		len(jobs), len(req.Exposures), req.Bootstrap)
	return s.runBatch(ctx, "owas_qgcomp", req.Table, jobs, fitter, req.Options)
}

// runBatch is the shared aggregation skeleton: fit every job, keep the
// requested order, then correct p-values over the whole batch. A failed or
// panicking fit only marks its own row; siblings keep running. Workers > 1
// fans fits out over a weighted semaphore, each goroutine writing a
// pre-reserved slot, so output is identical to the sequential run.
func (s *Service) runBatch(ctx context.Context, analysis string, tbl *dataset.Table, jobs []fitJob, fitter ports.ModelFitter, opts Options) (*model.ResultTable, error) {
	start := time.Now()
	rows := make([]model.Row, len(jobs))

	sem := semaphore.NewWeighted(int64(opts.Workers))
	var wg sync.WaitGroup
	for i := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			job := jobs[i]
			res := s.fitOne(ctx, job, fitter, tbl)
			rows[i] = makeRow(job, res)
		}(i)
	}
	wg.Wait()

	pvals := make([]float64, len(rows))
	for i := range rows {
		pvals[i] = rows[i].PValue
	}
	m := 0
	if opts.CountFailedTests {
		m = len(rows)
	}
	adj := padjust.BenjaminiHochberg(pvals, m)

	alpha := 1 - opts.ConfidenceLevel
	failed := 0
	for i := range rows {
		rows[i].AdjustedP = adj[i]
		rows[i].Threshold = padjust.Threshold(rows[i].PValue, alpha)
		if rows[i].FitStatus != model.FitStatusOK {
			failed++
			s.log.Warn("%s: fit failed for feature %q: %s", analysis, rows[i].FeatureName, rows[i].FitStatus)
		}
	}

	s.log.Info("%s: %d/%d fits succeeded in %s", analysis, len(rows)-failed, len(rows), time.Since(start))
	return &model.ResultTable{
		RunID:           core.RunID(core.NewID()),
		Analysis:        analysis,
		ConfidenceLevel: opts.ConfidenceLevel,
		Rows:            rows,
		CreatedAt:       time.Now(),
	}, nil
}

// fitOne isolates a single model fit; a panic inside a fitter becomes that
// feature's failure row.
func (s *Service) fitOne(ctx context.Context, job fitJob, fitter ports.ModelFitter, tbl *dataset.Table) (res model.FitResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.FailedFit(job.spec.Predictor, fmt.Sprintf("fit panicked: %v", r))
		}
	}()
	return fitter.Fit(ctx, job.spec, tbl)
}

func makeRow(job fitJob, res model.FitResult) model.Row {
	status := model.FitStatusOK
	if !res.Success {
		status = res.Reason
	}
	return model.Row{
		FeatureName: job.feature,
		VarName:     job.varName,
		Estimate:    res.Estimate,
		StdErr:      res.StdErr,
		Statistic:   res.Statistic,
		PValue:      res.PValue,
		CILower:     res.CILower,
		CIUpper:     res.CIUpper,
		NObs:        res.NObs,
		FitStatus:   status,
		Formula:     job.spec.Formula,
		Partials:    res.Partials,
	}
}
