package models

import (
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/ocp"
)

// Rocket has states (s, v, m): position, velocity and mass, driven by
// thrust u against quadratic drag.
type Rocket struct {
	Drag float64
	Burn float64
}

func NewRocket() *Rocket {
	return &Rocket{
		Drag: 0.2,
		Burn: 0.01,
	}
}

func (r *Rocket) Dims() dynamo.Dims {
	return dynamo.Dims{Differential: 3, Control: 1}
}

func (r *Rocket) Derive(pt dynamo.Point) dynamo.State {
	v, m, u := pt.X[1], pt.X[2], pt.U[0]
	return dynamo.State{
		v,
		(u - r.Drag*v*v) / m,
		-r.Burn * u * u,
	}
}

func (r *Rocket) Residual(dynamo.Point) dynamo.State { return nil }

// RocketProblem flies from rest at s = 0 to rest at s = 10 in minimum time.
func RocketProblem() *ocp.Problem {
	return ocp.New("rocket", NewRocket(), 0, 10, 20).
		MinimizeMayer(func(pt dynamo.Point) float64 { return pt.T }).
		FixInitialState(0, 0, 1).
		AtEnd("position", func(pt dynamo.Point) float64 { return pt.X[0] }, 10, 10).
		AtEnd("velocity", func(pt dynamo.Point) float64 { return pt.X[1] }, 0, 0).
		BoundState(1, -0.1, 1.7).
		BoundControl(0, -1.1, 1.1).
		FreeEndTime(5, 15).
		WithNames(ocp.Names{
			States:   []string{"s", "v", "m"},
			Controls: []string{"u"},
		}).
		WithGuess(ocp.Guess{Control: []float64{0.5}, EndTime: 10})
}
