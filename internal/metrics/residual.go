package metrics

import (
	"math"

	"github.com/khanhln2907/acado/internal/dynamo"
)

// AlgebraicResidual tracks the largest |g| seen along a trajectory.
type AlgebraicResidual struct {
	name string
	sys  dynamo.DAE
	max  float64
}

func NewAlgebraicResidual(sys dynamo.DAE) *AlgebraicResidual {
	return &AlgebraicResidual{
		name: "algebraic_residual",
		sys:  sys,
	}
}

func (a *AlgebraicResidual) Name() string { return a.name }

func (a *AlgebraicResidual) Observe(pt dynamo.Point) {
	if a.sys.Dims().Algebraic == 0 {
		return
	}
	for _, g := range a.sys.Residual(pt) {
		a.max = math.Max(a.max, math.Abs(g))
	}
}

func (a *AlgebraicResidual) Value() float64 { return a.max }

func (a *AlgebraicResidual) Reset() { a.max = 0 }
