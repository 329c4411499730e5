package models

import (
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/ocp"
)

type VanDerPol struct {
	Mu float64
}

func NewVanDerPol() *VanDerPol {
	return &VanDerPol{Mu: 1.0}
}

func (v *VanDerPol) Dims() dynamo.Dims {
	return dynamo.Dims{Differential: 2, Control: 1}
}

func (v *VanDerPol) Derive(pt dynamo.Point) dynamo.State {
	x1, x2, u := pt.X[0], pt.X[1], pt.U[0]
	return dynamo.State{
		x2,
		v.Mu*(1-x1*x1)*x2 - x1 + u,
	}
}

func (v *VanDerPol) Residual(dynamo.Point) dynamo.State { return nil }

// VanDerPolProblem brings the oscillator from (0, 1) to rest at the origin
// with a quadratic cost and |u| <= 1.
func VanDerPolProblem() *ocp.Problem {
	return ocp.New("van_der_pol", NewVanDerPol(), 0, 5, 25).
		MinimizeLagrange(func(pt dynamo.Point) float64 {
			x1, x2, u := pt.X[0], pt.X[1], pt.U[0]
			return x1*x1 + x2*x2 + u*u
		}).
		FixInitialState(0, 1).
		AtEnd("x1", func(pt dynamo.Point) float64 { return pt.X[0] }, 0, 0).
		AtEnd("x2", func(pt dynamo.Point) float64 { return pt.X[1] }, 0, 0).
		BoundControl(0, -1, 1).
		WithNames(ocp.Names{
			States:   []string{"x1", "x2"},
			Controls: []string{"u"},
		})
}
