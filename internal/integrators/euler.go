package integrators

import "github.com/khanhln2907/acado/internal/dynamo"

type Euler struct {
	evaluator
}

func NewEuler() *Euler {
	return &Euler{evaluator: newEvaluator()}
}

func (e *Euler) Step(sys dynamo.DAE, pt dynamo.Point, dt float64) (dynamo.Point, error) {
	dx, z, err := e.derive(sys, pt)
	if err != nil {
		return pt, err
	}
	return e.finish(sys, pt, pt.X.Add(dx.Scale(dt)), z, dt)
}
