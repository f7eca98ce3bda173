package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hylla/riskcast/internal/domain"
	"golang.org/x/sync/errgroup"
)

// DefaultIterations is the trial count used when none is configured.
const DefaultIterations = 1000

// ErrInvalidIterations reports a non-positive trial count.
var ErrInvalidIterations = errors.New("iterations must be positive")

// Config holds trial-loop settings.
type Config struct {
	Iterations        int
	Workers           int
	LegacyUniformDraw bool
}

// Simulator runs Monte Carlo trials over a simulation context.
type Simulator struct {
	cfg     Config
	sampler SamplerFactory
	logger  Logger
}

// NewSimulator constructs a simulator. Workers below one run sequentially.
func NewSimulator(cfg Config, sampler SamplerFactory, logger Logger) (*Simulator, error) {
	if cfg.Iterations <= 0 {
		return nil, fmt.Errorf("iterations=%d: %w", cfg.Iterations, ErrInvalidIterations)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if sampler == nil {
		return nil, errors.New("sampler factory is required")
	}
	return &Simulator{
		cfg:     cfg,
		sampler: sampler,
		logger:  orNop(logger),
	}, nil
}

// trialJob is one risk applied to one or more activities with fixed bounds.
// Each trial draws once and applies the draw to every member activity.
type trialJob struct {
	risk     domain.Risk
	members  []domain.Activity
	minimum  float64
	maximum  float64
	firstIdx int
}

// RunIndividual simulates every valid risk against each of its resolved
// activities using the risk's own bounds.
func (s *Simulator) RunIndividual(ctx context.Context, c *Context) ([]domain.SimulationSample, error) {
	var jobs []trialJob
	for _, risk := range c.risks {
		for _, activityID := range c.targets[risk.ID] {
			activity, _ := c.Activity(activityID)
			jobs = append(jobs, trialJob{
				risk:    risk,
				members: []domain.Activity{activity},
				minimum: risk.Minimum,
				maximum: risk.Maximum,
			})
		}
	}
	return s.run(ctx, c, "individual", jobs)
}

// RunGrouped simulates every valid risk once across all of its activities,
// with bounds widened to the most optimistic low and most pessimistic high
// expected impact among the members.
func (s *Simulator) RunGrouped(ctx context.Context, c *Context) ([]domain.SimulationSample, error) {
	var jobs []trialJob
	for _, risk := range c.risks {
		members := make([]domain.Activity, 0, len(c.targets[risk.ID]))
		for _, activityID := range c.targets[risk.ID] {
			activity, _ := c.Activity(activityID)
			members = append(members, activity)
		}
		lo, hi, _ := GroupedBounds(risk, members)
		jobs = append(jobs, trialJob{
			risk:    risk,
			members: members,
			minimum: lo,
			maximum: hi,
		})
	}
	return s.run(ctx, c, "grouped", jobs)
}

// GroupedBounds derives the widened bounds of a risk across activities:
// the minimum of 0.9×avgImpact and the maximum of 1.5×avgImpact, where
// avgImpact is the rounded expected impact per member. The per-member
// averages are returned in member order.
func GroupedBounds(risk domain.Risk, members []domain.Activity) (float64, float64, []float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	avgs := make([]float64, 0, len(members))
	for _, activity := range members {
		avg := risk.AverageImpact(activity.OriginalDuration)
		avgs = append(avgs, avg)
		lo = math.Min(lo, 0.9*avg)
		hi = math.Max(hi, 1.5*avg)
	}
	if len(members) == 0 {
		return 0, 0, avgs
	}
	return lo, hi, avgs
}

// run executes every job, partitioning each job's trials into chunks that
// may run concurrently. Samples are laid out job by job, trial by trial,
// member by member regardless of scheduling.
func (s *Simulator) run(ctx context.Context, c *Context, mode string, jobs []trialJob) ([]domain.SimulationSample, error) {
	n := s.cfg.Iterations
	total := 0
	for i := range jobs {
		jobs[i].firstIdx = total
		total += n * len(jobs[i].members)
	}
	samples := make([]domain.SimulationSample, total)

	chunks := min(s.cfg.Workers, n)
	s.logger.Info("simulation run start", "mode", mode, "jobs", len(jobs), "iterations", n, "workers", s.cfg.Workers, "samples", total)

	if s.cfg.Workers == 1 {
		for jobIdx, job := range jobs {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("simulation canceled: %w", err)
			}
			s.runChunk(c, job, samples, 0, n, s.sampler(uint64(jobIdx)))
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for jobIdx, job := range jobs {
			for chunk := range chunks {
				lo := chunk * n / chunks
				hi := (chunk + 1) * n / chunks
				stream := uint64(jobIdx)*uint64(chunks) + uint64(chunk)
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					s.runChunk(c, job, samples, lo, hi, s.sampler(stream))
					return nil
				})
			}
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("simulation canceled: %w", err)
		}
	}

	s.logger.Info("simulation run complete", "mode", mode, "samples", total)
	return samples, nil
}

// runChunk fills the samples for trials [lo, hi) of one job.
func (s *Simulator) runChunk(c *Context, job trialJob, samples []domain.SimulationSample, lo, hi int, sampler BetaSampler) {
	drawer, legacy := sampler.(UniformDrawer)
	legacy = legacy && s.cfg.LegacyUniformDraw
	width := job.maximum - job.minimum
	m := len(job.members)
	for trial := lo; trial < hi; trial++ {
		if legacy {
			_ = drawer.Uniform()
		}
		x := sampler.SampleBeta(job.risk.Alpha, job.risk.Beta)
		extra := job.minimum + width*x
		for k, activity := range job.members {
			simulated := activity.OriginalDuration + extra
			samples[job.firstIdx+trial*m+k] = domain.SimulationSample{
				RiskID:                 job.risk.ID,
				ActivityID:             activity.ID,
				Trial:                  trial,
				OriginalDuration:       activity.OriginalDuration,
				SimulatedDuration:      simulated,
				SimulatedRatio:         simulated / activity.OriginalDuration,
				TotalSimulatedDuration: c.baseline + extra,
			}
		}
	}
}
