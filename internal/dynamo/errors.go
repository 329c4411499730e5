package dynamo

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState reports a NaN or Inf in a state vector.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	ErrStepTooSmall      = errors.New("dynamo: adaptive timestep below minimum")
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between point and system")

	// ErrNotConverged reports a Newton projection of the algebraic states
	// that stopped above tolerance.
	ErrNotConverged = errors.New("dynamo: newton iteration did not converge")
	ErrSingular     = errors.New("dynamo: singular jacobian")
)

// SimulationError locates a failed integration step.
type SimulationError struct {
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d at t=%g: %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
