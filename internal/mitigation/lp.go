// Package mitigation formulates and solves the mitigation allocation linear
// program over a contingency budget.
package mitigation

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotOptimal reports a linear program the solver could not optimize.
var ErrNotOptimal = errors.New("no optimal solution")

// ErrMalformedProgram reports mismatched program dimensions.
var ErrMalformedProgram = errors.New("malformed linear program")

// Constraint is one row Σ Coeffs[j]·x[j] ≤ Bound.
type Constraint struct {
	Name   string
	Coeffs []float64
	Bound  float64
}

// LinearProgram maximizes Objective·x subject to Constraints with x ≥ 0.
type LinearProgram struct {
	Variables   []string
	Objective   []float64
	Constraints []Constraint
}

// Validate checks that every row matches the variable count.
func (p LinearProgram) Validate() error {
	n := len(p.Variables)
	if len(p.Objective) != n {
		return fmt.Errorf("objective has %d terms for %d variables: %w", len(p.Objective), n, ErrMalformedProgram)
	}
	for _, row := range p.Constraints {
		if len(row.Coeffs) != n {
			return fmt.Errorf("constraint %q has %d terms for %d variables: %w", row.Name, len(row.Coeffs), n, ErrMalformedProgram)
		}
	}
	return nil
}

// Solution is an optimal variable assignment and its objective value.
type Solution struct {
	Values    []float64
	Objective float64
}

// Solver solves maximization programs. Implementations return an error
// wrapping ErrNotOptimal when no optimum exists.
type Solver interface {
	SolveLinearProgram(ctx context.Context, program LinearProgram) (Solution, error)
}
