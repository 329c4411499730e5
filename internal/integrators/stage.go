package integrators

import (
	"github.com/khanhln2907/acado/internal/algebra"
	"github.com/khanhln2907/acado/internal/dynamo"
)

// evaluator computes stage derivatives of a DAE, projecting the algebraic
// states onto g = 0 before every evaluation of f.
type evaluator struct {
	newton *algebra.Newton
	evals  int
}

func newEvaluator() evaluator {
	return evaluator{newton: algebra.NewNewton()}
}

func (e *evaluator) derive(sys dynamo.DAE, pt dynamo.Point) (dynamo.State, dynamo.State, error) {
	z, err := algebra.Consistent(sys, pt, e.newton)
	if err != nil {
		return nil, nil, err
	}
	pt.Z = z
	e.evals++
	return sys.Derive(pt), z, nil
}

// Evaluations returns the number of right-hand side evaluations so far.
func (e *evaluator) Evaluations() int { return e.evals }

// SetNewton replaces the algebraic solver used by the integrator.
func (e *evaluator) SetNewton(n *algebra.Newton) { e.newton = n }

// finish returns the end point of a step with algebraic states made
// consistent with x, warm-started from z.
func (e *evaluator) finish(sys dynamo.DAE, pt dynamo.Point, x, z dynamo.State, dt float64) (dynamo.Point, error) {
	next := dynamo.Point{T: pt.T + dt, X: x, Z: z, U: pt.U, P: pt.P}
	if !x.IsValid() {
		return next, dynamo.ErrInvalidState
	}
	if sys.Dims().Algebraic == 0 {
		return next, nil
	}
	zEnd, err := algebra.Consistent(sys, next, e.newton)
	if err != nil {
		return next, err
	}
	next.Z = zEnd
	return next, nil
}
