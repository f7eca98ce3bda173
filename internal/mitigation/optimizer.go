package mitigation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hylla/riskcast/internal/domain"
)

// Status reports whether an allocation came from an optimal solve.
type Status string

// StatusOptimal and StatusNotOptimal are the allocation outcomes.
const (
	StatusOptimal    Status = "optimal"
	StatusNotOptimal Status = "not_optimal"
)

// Logger is the diagnostic sink used by the optimizer.
type Logger interface {
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Info(any, ...any) {}
func (nopLogger) Warn(any, ...any) {}

// Config holds optimizer settings. A zero budget means the sum of every
// risk's contingency cost.
type Config struct {
	Budget    float64
	Tolerance float64
	Timeout   time.Duration
}

// Problem is the allocation program input, one entry per simulated risk.
type Problem struct {
	RiskIDs       []string
	Costs         []float64
	Impacts       []float64
	Contingencies []float64
	Budget        float64
}

// AllocationItem is the solved level and spend for one risk.
type AllocationItem struct {
	RiskID string  `json:"risk_id"`
	Level  float64 `json:"level"`
	Spend  float64 `json:"spend"`
}

// Allocation is the optimizer result. Items hold every risk in problem
// order; non-optimal results carry zero levels and a reason.
type Allocation struct {
	Status    Status           `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	Objective float64          `json:"objective"`
	Budget    float64          `json:"budget"`
	Items     []AllocationItem `json:"items"`
}

// Selected returns allocations with a strictly positive level, in risk order.
func (a Allocation) Selected() []AllocationItem {
	out := make([]AllocationItem, 0, len(a.Items))
	for _, item := range a.Items {
		if item.Level > 0 {
			out = append(out, item)
		}
	}
	return out
}

// ErrConstraintViolated reports an allocation outside the feasible region.
var ErrConstraintViolated = errors.New("allocation violates constraint")

// Check verifies the impact cap, the per-risk contingency cap, and the
// aggregate budget within tol.
func (a Allocation) Check(problem Problem, tol float64) error {
	if len(a.Items) != len(problem.RiskIDs) {
		return fmt.Errorf("allocation has %d items for %d risks: %w", len(a.Items), len(problem.RiskIDs), ErrConstraintViolated)
	}
	spend := 0.0
	for i, item := range a.Items {
		if item.Level < -tol {
			return fmt.Errorf("risk %s level %g < 0: %w", item.RiskID, item.Level, ErrConstraintViolated)
		}
		if item.Level > problem.Impacts[i]+tol {
			return fmt.Errorf("risk %s level %g exceeds impact %g: %w", item.RiskID, item.Level, problem.Impacts[i], ErrConstraintViolated)
		}
		cost := problem.Costs[i] * item.Level
		if cost > problem.Contingencies[i]+tol {
			return fmt.Errorf("risk %s spend %g exceeds contingency %g: %w", item.RiskID, cost, problem.Contingencies[i], ErrConstraintViolated)
		}
		spend += cost
	}
	if spend > problem.Budget+tol {
		return fmt.Errorf("total spend %g exceeds budget %g: %w", spend, problem.Budget, ErrConstraintViolated)
	}
	if a.Objective < -tol {
		return fmt.Errorf("objective %g < 0: %w", a.Objective, ErrConstraintViolated)
	}
	return nil
}

// Optimizer builds and solves the mitigation program.
type Optimizer struct {
	cfg    Config
	solver Solver
	logger Logger
}

// NewOptimizer constructs an optimizer. A nil solver uses SimplexSolver.
func NewOptimizer(cfg Config, solver Solver, logger Logger) *Optimizer {
	if solver == nil {
		solver = SimplexSolver{Tolerance: cfg.Tolerance}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Optimizer{cfg: cfg, solver: solver, logger: logger}
}

// BuildProblem pairs per-risk summary rows with their risks. Risks without a
// summary row were not simulated and are left out. Impacts are rounded
// half-to-even.
func (o *Optimizer) BuildProblem(risks []domain.Risk, perRisk []domain.SummaryRow) Problem {
	impact := make(map[string]float64, len(perRisk))
	for _, row := range perRisk {
		if _, ok := impact[row.RiskID]; ok {
			continue
		}
		impact[row.RiskID] = row.Impact
	}
	var p Problem
	total := 0.0
	for _, risk := range risks {
		value, ok := impact[risk.ID]
		if !ok {
			continue
		}
		p.RiskIDs = append(p.RiskIDs, risk.ID)
		p.Costs = append(p.Costs, risk.MitigationCost)
		p.Impacts = append(p.Impacts, math.RoundToEven(value))
		p.Contingencies = append(p.Contingencies, risk.ContingencyCost)
		total += risk.ContingencyCost
	}
	p.Budget = o.cfg.Budget
	if p.Budget <= 0 {
		p.Budget = total
	}
	return p
}

// Program expresses a problem as a maximization linear program.
func (p Problem) Program() LinearProgram {
	n := len(p.RiskIDs)
	program := LinearProgram{
		Variables: append([]string(nil), p.RiskIDs...),
		Objective: append([]float64(nil), p.Costs...),
	}
	for i, id := range p.RiskIDs {
		impactRow := make([]float64, n)
		impactRow[i] = 1
		program.Constraints = append(program.Constraints, Constraint{
			Name:   "impact_" + id,
			Coeffs: impactRow,
			Bound:  p.Impacts[i],
		})
		costRow := make([]float64, n)
		costRow[i] = p.Costs[i]
		program.Constraints = append(program.Constraints, Constraint{
			Name:   "contingency_" + id,
			Coeffs: costRow,
			Bound:  p.Contingencies[i],
		})
	}
	if n > 0 {
		program.Constraints = append(program.Constraints, Constraint{
			Name:   "budget",
			Coeffs: append([]float64(nil), p.Costs...),
			Bound:  p.Budget,
		})
	}
	return program
}

// Solve runs the program. Solver failures produce the explicit empty
// allocation with StatusNotOptimal rather than an error; only a malformed
// problem is returned as an error.
func (o *Optimizer) Solve(ctx context.Context, problem Problem) (Allocation, error) {
	n := len(problem.RiskIDs)
	if len(problem.Costs) != n || len(problem.Impacts) != n || len(problem.Contingencies) != n {
		return Allocation{}, fmt.Errorf("problem columns disagree on risk count: %w", ErrMalformedProgram)
	}
	alloc := Allocation{
		Status: StatusOptimal,
		Budget: problem.Budget,
		Items:  make([]AllocationItem, n),
	}
	for i, id := range problem.RiskIDs {
		alloc.Items[i] = AllocationItem{RiskID: id}
	}
	if n == 0 {
		o.logger.Info("mitigation solve skipped", "reason", "no simulated risks")
		return alloc, nil
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}
	solution, err := o.solver.SolveLinearProgram(ctx, problem.Program())
	if err == nil && len(solution.Values) != n {
		err = fmt.Errorf("solver returned %d values for %d risks: %w", len(solution.Values), n, ErrNotOptimal)
	}
	if err != nil {
		alloc.Status = StatusNotOptimal
		alloc.Reason = err.Error()
		o.logger.Warn("mitigation solve not optimal", "risks", n, "budget", problem.Budget, "err", err)
		return alloc, nil
	}

	for i, level := range solution.Values {
		if level < 0 {
			level = 0
		}
		alloc.Items[i].Level = level
		alloc.Items[i].Spend = problem.Costs[i] * level
	}
	alloc.Objective = math.Max(solution.Objective, 0)
	o.logger.Info("mitigation solve complete", "risks", n, "budget", problem.Budget, "objective", alloc.Objective, "selected", len(alloc.Selected()))
	return alloc, nil
}
