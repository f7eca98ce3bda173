package mitigation

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// DefaultTolerance is the simplex optimality tolerance.
const DefaultTolerance = 1e-10

// SimplexSolver adapts gonum's dense simplex to the Solver interface.
type SimplexSolver struct {
	Tolerance float64
}

type simplexResult struct {
	objective float64
	x         []float64
	err       error
}

// SolveLinearProgram converts the program to standard form with one slack
// variable per constraint, minimizes the negated objective, and maps the
// result back. Cancellation abandons the solve.
func (s SimplexSolver) SolveLinearProgram(ctx context.Context, program LinearProgram) (Solution, error) {
	if err := program.Validate(); err != nil {
		return Solution{}, err
	}
	n := len(program.Variables)
	m := len(program.Constraints)
	if n == 0 {
		return Solution{Values: []float64{}}, nil
	}
	if m == 0 {
		for _, coeff := range program.Objective {
			if coeff > 0 {
				return Solution{}, fmt.Errorf("unconstrained positive objective: %w", ErrNotOptimal)
			}
		}
		return Solution{Values: make([]float64, n)}, nil
	}

	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	c := make([]float64, n+m)
	for j, coeff := range program.Objective {
		c[j] = -coeff
	}
	a := mat.NewDense(m, n+m, nil)
	b := make([]float64, m)
	basic := make([]int, m)
	feasibleAtZero := true
	for i, row := range program.Constraints {
		for j, coeff := range row.Coeffs {
			a.Set(i, j, coeff)
		}
		a.Set(i, n+i, 1)
		b[i] = row.Bound
		basic[i] = n + i
		if row.Bound < 0 {
			feasibleAtZero = false
		}
	}
	if !feasibleAtZero {
		basic = nil
	}

	done := make(chan simplexResult, 1)
	go func() {
		objective, x, err := lp.Simplex(c, a, b, tol, basic)
		done <- simplexResult{objective: objective, x: x, err: err}
	}()
	select {
	case <-ctx.Done():
		return Solution{}, fmt.Errorf("simplex: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return Solution{}, fmt.Errorf("simplex: %w: %w", ErrNotOptimal, res.err)
		}
		values := make([]float64, n)
		copy(values, res.x[:n])
		return Solution{Values: values, Objective: -res.objective}, nil
	}
}
