// Package algebra solves the nonlinear algebraic systems that appear inside
// DAE integration: consistent algebraic states and implicit step equations.
package algebra

import (
	"errors"
	"fmt"
	"math"

	"github.com/khanhln2907/acado/internal/dynamo"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Newton is a damped Newton solver with a finite-difference Jacobian.
// It holds no per-solve state and may be shared between goroutines.
type Newton struct {
	// Tol is the convergence threshold on the max-norm of the residual.
	Tol float64
	// MaxIter bounds the number of Jacobian factorizations.
	MaxIter int
	// Step is the finite-difference step; zero selects the gonum default.
	Step float64
	// MinDamping is the smallest line-search factor tried before giving up.
	MinDamping float64
}

func NewNewton() *Newton {
	return &Newton{
		Tol:        1e-10,
		MaxIter:    50,
		MinDamping: 1.0 / 1024,
	}
}

// Solve finds z with f(z) = 0 starting from z0. f writes the residual of z
// into dst and must not retain either slice. It returns the solution, the
// number of Newton iterations and an error wrapping dynamo.ErrNotConverged,
// dynamo.ErrSingular or dynamo.ErrInvalidState on failure.
func (n *Newton) Solve(f func(dst, z []float64), z0 []float64) ([]float64, int, error) {
	m := len(z0)
	z := make([]float64, m)
	copy(z, z0)
	if m == 0 {
		return z, 0, nil
	}

	r := make([]float64, m)
	f(r, z)
	if !dynamo.State(r).IsValid() {
		return z, 0, fmt.Errorf("%w: residual at initial guess", dynamo.ErrInvalidState)
	}

	jac := mat.NewDense(m, m, nil)
	var dz mat.VecDense
	trial := make([]float64, m)
	rt := make([]float64, m)
	settings := &fd.JacobianSettings{Formula: fd.Central, Step: n.Step}

	for it := 0; it < n.MaxIter; it++ {
		if dynamo.State(r).MaxAbs() <= n.Tol {
			return z, it, nil
		}

		fd.Jacobian(jac, f, z, settings)
		if err := dz.SolveVec(jac, mat.NewVecDense(m, r)); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return z, it, fmt.Errorf("%w: %v", dynamo.ErrSingular, err)
			}
		}
		step := dz.RawVector().Data
		if !dynamo.State(step).IsValid() {
			return z, it, dynamo.ErrSingular
		}

		norm := dynamo.State(r).Norm()
		accepted := false
		for lambda := 1.0; lambda >= n.MinDamping; lambda /= 2 {
			for i := range z {
				trial[i] = z[i] - lambda*step[i]
			}
			f(rt, trial)
			tn := dynamo.State(rt).Norm()
			if !math.IsNaN(tn) && !math.IsInf(tn, 0) && tn < norm {
				accepted = true
				break
			}
		}
		if !accepted {
			return z, it, fmt.Errorf("%w: line search stalled at |r|=%.3e", dynamo.ErrNotConverged, norm)
		}
		copy(z, trial)
		copy(r, rt)
	}

	if dynamo.State(r).MaxAbs() <= n.Tol {
		return z, n.MaxIter, nil
	}
	return z, n.MaxIter, fmt.Errorf("%w: |r|=%.3e after %d iterations", dynamo.ErrNotConverged, dynamo.State(r).MaxAbs(), n.MaxIter)
}

// Consistent solves g(t, x, z, u, p) = 0 for z, starting from pt.Z (or zeros
// when pt.Z is empty). Systems without algebraic states return pt.Z unchanged.
func Consistent(sys dynamo.DAE, pt dynamo.Point, n *Newton) (dynamo.State, error) {
	nz := sys.Dims().Algebraic
	if nz == 0 {
		return pt.Z, nil
	}
	z0 := make([]float64, nz)
	copy(z0, pt.Z)

	f := func(dst, z []float64) {
		q := pt
		q.Z = z
		copy(dst, sys.Residual(q))
	}
	z, _, err := n.Solve(f, z0)
	if err != nil {
		return pt.Z, fmt.Errorf("consistent algebraic state at t=%.4f: %w", pt.T, err)
	}
	return dynamo.State(z), nil
}
