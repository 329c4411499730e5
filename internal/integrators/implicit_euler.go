package integrators

import (
	"fmt"

	"github.com/khanhln2907/acado/internal/dynamo"
)

// ImplicitEuler is the backward Euler method applied to the full DAE: the
// end point (x1, z1) solves
//
//	x1 - x0 - dt*f(t1, x1, z1, u, p) = 0
//	g(t1, x1, z1, u, p) = 0
//
// by Newton iteration, using an explicit Euler predictor as initial guess.
type ImplicitEuler struct {
	evaluator
	w0 []float64
}

func NewImplicitEuler() *ImplicitEuler {
	return &ImplicitEuler{evaluator: newEvaluator()}
}

func (e *ImplicitEuler) Step(sys dynamo.DAE, pt dynamo.Point, dt float64) (dynamo.Point, error) {
	dims := sys.Dims()
	nx, nz := dims.Differential, dims.Algebraic

	dx, z0, err := e.derive(sys, pt)
	if err != nil {
		return pt, err
	}

	if len(e.w0) != nx+nz {
		e.w0 = make([]float64, nx+nz)
	}
	for i := 0; i < nx; i++ {
		e.w0[i] = pt.X[i] + dt*dx[i]
	}
	copy(e.w0[nx:], z0)

	t1 := pt.T + dt
	residual := func(dst, w []float64) {
		q := dynamo.Point{T: t1, X: w[:nx], Z: w[nx:], U: pt.U, P: pt.P}
		f := sys.Derive(q)
		e.evals++
		for i := 0; i < nx; i++ {
			dst[i] = w[i] - pt.X[i] - dt*f[i]
		}
		if nz > 0 {
			copy(dst[nx:], sys.Residual(q))
		}
	}

	w, _, err := e.newton.Solve(residual, e.w0)
	if err != nil {
		return pt, fmt.Errorf("implicit euler at t=%.4f: %w", pt.T, err)
	}

	x1 := make(dynamo.State, nx)
	copy(x1, w[:nx])
	var z1 dynamo.State
	if nz > 0 {
		z1 = make(dynamo.State, nz)
		copy(z1, w[nx:])
	}
	next := dynamo.Point{T: t1, X: x1, Z: z1, U: pt.U, P: pt.P}
	if !x1.IsValid() {
		return next, dynamo.ErrInvalidState
	}
	return next, nil
}
