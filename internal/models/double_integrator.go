package models

import (
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/ocp"
)

type DoubleIntegrator struct{}

func NewDoubleIntegrator() *DoubleIntegrator { return &DoubleIntegrator{} }

func (d *DoubleIntegrator) Dims() dynamo.Dims {
	return dynamo.Dims{Differential: 2, Control: 1}
}

func (d *DoubleIntegrator) Derive(pt dynamo.Point) dynamo.State {
	return dynamo.State{pt.X[1], pt.U[0]}
}

func (d *DoubleIntegrator) Residual(dynamo.Point) dynamo.State { return nil }

// DoubleIntegratorProblem moves from rest at 0 to rest at 1 in unit time
// minimizing ∫u². The continuous optimum is u = 6 - 12t with cost 12.
func DoubleIntegratorProblem() *ocp.Problem {
	return ocp.New("double_integrator", NewDoubleIntegrator(), 0, 1, 20).
		MinimizeLagrange(func(pt dynamo.Point) float64 { return pt.U[0] * pt.U[0] }).
		FixInitialState(0, 0).
		AtEnd("position", func(pt dynamo.Point) float64 { return pt.X[0] }, 1, 1).
		AtEnd("velocity", func(pt dynamo.Point) float64 { return pt.X[1] }, 0, 0).
		WithNames(ocp.Names{
			States:   []string{"x", "v"},
			Controls: []string{"u"},
		})
}
