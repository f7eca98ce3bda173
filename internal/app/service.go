package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hylla/riskcast/internal/domain"
	"github.com/hylla/riskcast/internal/mitigation"
	"github.com/hylla/riskcast/internal/simulation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RunMode represents a selectable simulation mode.
type RunMode string

// RunModeIndividual and related constants define package defaults.
const (
	RunModeIndividual RunMode = "individual"
	RunModeGrouped    RunMode = "grouped"
)

// ParseRunMode normalizes a configured mode. Empty means individual.
func ParseRunMode(raw string) (RunMode, error) {
	switch RunMode(raw) {
	case "", RunModeIndividual:
		return RunModeIndividual, nil
	case RunModeGrouped:
		return RunModeGrouped, nil
	default:
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidRunMode)
	}
}

// tracerName identifies spans emitted by the service.
const tracerName = "github.com/hylla/riskcast/internal/app"

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// SamplerSource builds the beta sampler streams for one run seed.
type SamplerSource func(seed uint64) simulation.SamplerFactory

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	Simulation  simulation.Config
	Mode        RunMode
	SummaryMode simulation.SummaryMode
	// Seed fixes the run seed; zero draws a fresh seed per run.
	Seed      uint64
	Optimizer mitigation.Config

	Exporter Exporter
	Solver   mitigation.Solver
	Sampler  SamplerSource
	Logger   Logger
}

// Service runs the risk pipeline and serves stored runs.
type Service struct {
	repo     Repository
	exporter Exporter
	idGen    IDGenerator
	clock    Clock
	cfg      ServiceConfig
	sampler  SamplerSource
	solver   mitigation.Solver
	logger   Logger
}

// NewService constructs a new value for this package. A nil repository
// disables persistence and the stored-run queries.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.Mode == "" {
		cfg.Mode = RunModeIndividual
	}
	if cfg.SummaryMode == "" {
		cfg.SummaryMode = simulation.ModeActivityRisk
	}
	if cfg.Simulation.Iterations <= 0 {
		cfg.Simulation.Iterations = simulation.DefaultIterations
	}
	sampler := cfg.Sampler
	if sampler == nil {
		sampler = simulation.GonumSamplerFactory
	}
	var logger Logger = nopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &Service{
		repo:     repo,
		exporter: cfg.Exporter,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		sampler:  sampler,
		solver:   cfg.Solver,
		logger:   logger,
	}
}

// RunInput holds input values for run operations.
type RunInput struct {
	Activities  []domain.Activity
	Risks       []domain.Risk
	SkipExport  bool
	SkipPersist bool
}

// RunResult is the full output of one pipeline execution.
type RunResult struct {
	Run                 domain.Run
	Context             *simulation.Context
	Combinations        []simulation.Combination
	Groups              []domain.ActivityGroup
	IndividualEstimates []domain.ThreePointEstimate
	GroupedEstimates    []domain.ThreePointEstimate
	Samples             []domain.SimulationSample
	Summary             []domain.SummaryRow
	RiskSummary         []domain.SummaryRow
	Compound            []domain.ActivityCompound
	Ranked              []domain.RankedPoint
	Problem             mitigation.Problem
	Allocation          mitigation.Allocation
	Diagnostics         []domain.Diagnostic
}

// Run executes the pipeline: context, enumeration, grouping, simulation,
// aggregation, optimization, then export and persistence. Input errors abort
// before any output is written.
func (s *Service) Run(ctx context.Context, in RunInput) (result RunResult, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "riskcast.run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(in.Activities) == 0 {
		return RunResult{}, fmt.Errorf("activities: %w", ErrInputMissing)
	}
	if len(in.Risks) == 0 {
		return RunResult{}, fmt.Errorf("risks: %w", ErrInputMissing)
	}

	var simCtx *simulation.Context
	err = s.stage(ctx, "context", func(context.Context) error {
		var buildErr error
		simCtx, buildErr = simulation.NewContext(in.Activities, in.Risks, s.logger)
		return buildErr
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("build simulation context: %w", err)
	}
	result.Context = simCtx
	result.Diagnostics = simCtx.Diagnostics()

	_ = s.stage(ctx, "structure", func(context.Context) error {
		combos, comboErr := simulation.EnumerateCombinations(simCtx.RiskIDs())
		if comboErr != nil {
			s.logger.Warn("risk combinations skipped", "risks", len(simCtx.RiskIDs()), "err", comboErr)
		}
		result.Combinations = combos
		result.Groups = simulation.GroupActivities(simCtx)
		result.IndividualEstimates = simulation.IndividualEstimates(simCtx)
		result.GroupedEstimates = simulation.GroupedEstimates(simCtx)
		return nil
	})

	seed := s.cfg.Seed
	if seed == 0 {
		seed, err = simulation.NewSeed()
		if err != nil {
			return RunResult{}, err
		}
	}
	err = s.stage(ctx, "simulate", func(stageCtx context.Context) error {
		sim, simErr := simulation.NewSimulator(s.cfg.Simulation, s.sampler(seed), s.logger)
		if simErr != nil {
			return simErr
		}
		switch s.cfg.Mode {
		case RunModeGrouped:
			result.Samples, simErr = sim.RunGrouped(stageCtx, simCtx)
		case RunModeIndividual:
			result.Samples, simErr = sim.RunIndividual(stageCtx, simCtx)
		default:
			simErr = fmt.Errorf("%q: %w", s.cfg.Mode, ErrInvalidRunMode)
		}
		return simErr
	}, attribute.Int("iterations", s.cfg.Simulation.Iterations), attribute.String("mode", string(s.cfg.Mode)))
	if err != nil {
		return RunResult{}, fmt.Errorf("simulate: %w", err)
	}

	baseline := simCtx.Baseline()
	var activityRows []domain.SummaryRow
	err = s.stage(ctx, "aggregate", func(context.Context) error {
		var aggErr error
		activityRows, aggErr = simulation.Summarize(result.Samples, baseline, simulation.ModeActivityRisk)
		if aggErr != nil {
			return aggErr
		}
		result.RiskSummary, aggErr = simulation.Summarize(result.Samples, baseline, simulation.ModeRisk)
		if aggErr != nil {
			return aggErr
		}
		switch s.cfg.SummaryMode {
		case simulation.ModeRisk:
			result.Summary = result.RiskSummary
		case simulation.ModeActivityRisk:
			result.Summary = activityRows
		default:
			return fmt.Errorf("%q: %w", s.cfg.SummaryMode, simulation.ErrUnknownMode)
		}
		result.Compound = simulation.Compound(simCtx, activityRows)
		result.Ranked = simulation.Rank(result.Summary, baseline)
		return nil
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("aggregate: %w", err)
	}

	err = s.stage(ctx, "optimize", func(stageCtx context.Context) error {
		optimizer := mitigation.NewOptimizer(s.cfg.Optimizer, s.solver, s.logger)
		result.Problem = optimizer.BuildProblem(simCtx.Risks(), result.RiskSummary)
		var solveErr error
		result.Allocation, solveErr = optimizer.Solve(stageCtx, result.Problem)
		return solveErr
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("optimize: %w", err)
	}

	run, err := domain.NewRun(s.idGen(), s.clock())
	if err != nil {
		return RunResult{}, err
	}
	workers := s.cfg.Simulation.Workers
	if workers < 1 {
		workers = 1
	}
	run.Mode = string(s.cfg.Mode)
	run.SummaryMode = string(s.cfg.SummaryMode)
	run.Iterations = s.cfg.Simulation.Iterations
	run.Workers = workers
	run.Seed = seed
	run.Baseline = baseline
	run.ActivityCount = len(simCtx.Activities())
	run.RiskCount = len(in.Risks)
	run.ValidRiskCount = len(simCtx.Risks())
	run.SampleCount = len(result.Samples)
	run.AllocationStatus = string(result.Allocation.Status)
	run.AllocationReason = result.Allocation.Reason
	run.Objective = result.Allocation.Objective
	run.Budget = result.Allocation.Budget
	result.Run = run

	if s.exporter != nil && !in.SkipExport {
		err = s.stage(ctx, "export", func(stageCtx context.Context) error {
			return s.exporter.ExportRun(stageCtx, result)
		})
		if err != nil {
			return RunResult{}, fmt.Errorf("export run %s: %w", run.ID, err)
		}
	}
	if s.repo != nil && !in.SkipPersist {
		err = s.stage(ctx, "persist", func(stageCtx context.Context) error {
			return s.repo.CreateRun(stageCtx, RunRecord{
				Run:         run,
				Summary:     result.Summary,
				Allocations: result.Allocation.Items,
				Diagnostics: result.Diagnostics,
			})
		})
		if err != nil {
			return RunResult{}, fmt.Errorf("persist run %s: %w", run.ID, err)
		}
	}

	s.logger.Info("risk run complete",
		"run_id", run.ID,
		"mode", run.Mode,
		"samples", run.SampleCount,
		"valid_risks", run.ValidRiskCount,
		"diagnostics", len(result.Diagnostics),
		"allocation_status", run.AllocationStatus,
		"objective", run.Objective,
	)
	return result, nil
}

// stage runs fn inside a child span named after the pipeline stage.
func (s *Service) stage(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "riskcast."+name)
	defer span.End()
	span.SetAttributes(attrs...)
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Analyze builds the simulation context without running trials.
func (s *Service) Analyze(in RunInput) (*simulation.Context, error) {
	if len(in.Activities) == 0 {
		return nil, fmt.Errorf("activities: %w", ErrInputMissing)
	}
	if len(in.Risks) == 0 {
		return nil, fmt.Errorf("risks: %w", ErrInputMissing)
	}
	c, err := simulation.NewContext(in.Activities, in.Risks, s.logger)
	if err != nil {
		return nil, fmt.Errorf("build simulation context: %w", err)
	}
	return c, nil
}

// EnumerateCombinations lists the risk interaction tuples of the valid risks.
func (s *Service) EnumerateCombinations(in RunInput) ([]simulation.Combination, error) {
	c, err := s.Analyze(in)
	if err != nil {
		return nil, err
	}
	return simulation.EnumerateCombinations(c.RiskIDs())
}

// GroupActivities groups activities sharing an ordered risk set.
func (s *Service) GroupActivities(in RunInput) ([]domain.ActivityGroup, error) {
	c, err := s.Analyze(in)
	if err != nil {
		return nil, err
	}
	return simulation.GroupActivities(c), nil
}

// ListRuns returns stored runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}
	return s.repo.ListRuns(ctx, limit)
}

// GetRun returns one stored run header.
func (s *Service) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	if s.repo == nil {
		return domain.Run{}, ErrStoreUnavailable
	}
	return s.repo.GetRun(ctx, runID)
}

// ListSummaryRows returns the stored summary rows of one run in impact order.
func (s *Service) ListSummaryRows(ctx context.Context, runID string) ([]domain.SummaryRow, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.repo.ListSummaryRows(ctx, runID)
}

// ListAllocations returns the stored allocation items of one run.
func (s *Service) ListAllocations(ctx context.Context, runID string) ([]mitigation.AllocationItem, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.repo.ListAllocations(ctx, runID)
}

// ListDiagnostics returns the data errors recorded for one run.
func (s *Service) ListDiagnostics(ctx context.Context, runID string) ([]domain.Diagnostic, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.repo.ListDiagnostics(ctx, runID)
}

// DeleteRun removes one stored run with its summary, allocation, and diagnostics.
func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	if s.repo == nil {
		return ErrStoreUnavailable
	}
	if err := s.repo.DeleteRun(ctx, runID); err != nil {
		return err
	}
	s.logger.Info("run deleted", "run_id", runID)
	return nil
}

// RankedImpacts rebuilds the ranked impact series of a stored run.
func (s *Service) RankedImpacts(ctx context.Context, runID string) ([]domain.RankedPoint, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListSummaryRows(ctx, runID)
	if err != nil {
		return nil, err
	}
	return simulation.Rank(rows, run.Baseline), nil
}

// IsInputError reports whether err aborted a run before any output.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInputMissing) ||
		errors.Is(err, simulation.ErrNoActivities) ||
		errors.Is(err, simulation.ErrNoRisks)
}
