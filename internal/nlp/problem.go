// Package nlp solves smooth nonlinear programs
//
//	minimize f(w)  subject to  c(w) = 0,  h(w) >= 0,  lower <= w <= upper
//
// with a PHR augmented Lagrangian method. Each subproblem is unconstrained
// and minimized by L-BFGS from gonum/optimize.
package nlp

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidProblem = errors.New("nlp: invalid problem")
	ErrEvaluation     = errors.New("nlp: evaluation failed")
)

type Status int

const (
	Converged Status = iota
	MaxIterations
	EvaluationFailed
	Canceled
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxIterations:
		return "max_iterations"
	case EvaluationFailed:
		return "evaluation_failed"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Problem describes an NLP in Dim variables. Gradient and Jacobian are
// optional; missing derivatives are computed by central differences.
// Constraints writes c into eq and h into ineq. Jacobian receives nil for a
// block with no rows. Lower and Upper may be nil or hold ±Inf entries.
type Problem struct {
	Dim     int
	NumEq   int
	NumIneq int

	Objective   func(w []float64) (float64, error)
	Gradient    func(grad, w []float64) error
	Constraints func(eq, ineq, w []float64) error
	Jacobian    func(jeq, jineq *mat.Dense, w []float64) error

	Lower []float64
	Upper []float64
}

func (p *Problem) Validate() error {
	switch {
	case p.Dim <= 0:
		return fmt.Errorf("%w: dimension %d", ErrInvalidProblem, p.Dim)
	case p.NumEq < 0 || p.NumIneq < 0:
		return fmt.Errorf("%w: negative constraint count", ErrInvalidProblem)
	case p.Objective == nil:
		return fmt.Errorf("%w: missing objective", ErrInvalidProblem)
	case p.NumEq+p.NumIneq > 0 && p.Constraints == nil:
		return fmt.Errorf("%w: %d constraints but no constraint function", ErrInvalidProblem, p.NumEq+p.NumIneq)
	case p.Lower != nil && len(p.Lower) != p.Dim:
		return fmt.Errorf("%w: %d lower bounds for %d variables", ErrInvalidProblem, len(p.Lower), p.Dim)
	case p.Upper != nil && len(p.Upper) != p.Dim:
		return fmt.Errorf("%w: %d upper bounds for %d variables", ErrInvalidProblem, len(p.Upper), p.Dim)
	}
	for i := 0; i < p.Dim; i++ {
		lo, up := p.bound(i)
		if math.IsNaN(lo) || math.IsNaN(up) || lo > up {
			return fmt.Errorf("%w: variable %d has bounds [%g, %g]", ErrInvalidProblem, i, lo, up)
		}
	}
	return nil
}

func (p *Problem) bound(i int) (float64, float64) {
	lo, up := math.Inf(-1), math.Inf(1)
	if p.Lower != nil {
		lo = p.Lower[i]
	}
	if p.Upper != nil {
		up = p.Upper[i]
	}
	return lo, up
}

type Options struct {
	// MaxOuter bounds the multiplier updates.
	MaxOuter int
	// MaxInner bounds the L-BFGS iterations per subproblem.
	MaxInner int
	// FeasibilityTol is the threshold on the max constraint violation.
	FeasibilityTol float64
	// StationarityTol is the threshold on the max-norm of the Lagrangian
	// gradient, relative to 1 + |f|.
	StationarityTol float64
	InitialPenalty  float64
	PenaltyGrowth   float64
	MaxPenalty      float64
	// ProgressRatio is the violation decrease required to keep the penalty.
	ProgressRatio float64
	// FDStep is the finite-difference step, zero for the gonum default.
	FDStep float64

	Logger *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		MaxOuter:        50,
		MaxInner:        500,
		FeasibilityTol:  1e-6,
		StationarityTol: 1e-5,
		InitialPenalty:  10,
		PenaltyGrowth:   10,
		MaxPenalty:      1e10,
		ProgressRatio:   0.25,
	}
}

// Iteration records one outer iteration.
type Iteration struct {
	Outer        int     `json:"outer"`
	Objective    float64 `json:"objective"`
	Violation    float64 `json:"violation"`
	Stationarity float64 `json:"stationarity"`
	Penalty      float64 `json:"penalty"`
	Inner        int     `json:"inner"`
}

type Result struct {
	X               []float64
	Objective       float64
	Violation       float64
	Stationarity    float64
	Status          Status
	EqMultipliers   []float64
	IneqMultipliers []float64
	Iterations      []Iteration
	Evaluations     int
	// Err is the last evaluation error when Status is EvaluationFailed.
	Err error
}
