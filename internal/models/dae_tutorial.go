package models

import (
	"math"

	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/ocp"
)

// Tutorial is the DAE
//
//	x' = -0.5x - z + u
//	l' = x² + 3u²
//	0  = z + exp(z) - 1 + x
//
// with states (x, l), algebraic state z and control u.
type Tutorial struct {
	Decay       float64
	ControlCost float64
}

func NewTutorial() *Tutorial {
	return &Tutorial{
		Decay:       0.5,
		ControlCost: 3.0,
	}
}

func (m *Tutorial) Dims() dynamo.Dims {
	return dynamo.Dims{Differential: 2, Algebraic: 1, Control: 1}
}

func (m *Tutorial) Derive(pt dynamo.Point) dynamo.State {
	x, z, u := pt.X[0], pt.Z[0], pt.U[0]
	return dynamo.State{
		-m.Decay*x - z + u,
		x*x + m.ControlCost*u*u,
	}
}

func (m *Tutorial) Residual(pt dynamo.Point) dynamo.State {
	x, z := pt.X[0], pt.Z[0]
	return dynamo.State{z + math.Exp(z) - 1 + x}
}

// TutorialProblem minimizes l(10) from x(0) = 1, l(0) = 0 with |u| <= 2.
func TutorialProblem() *ocp.Problem {
	return ocp.New("dae_tutorial", NewTutorial(), 0, 10, 20).
		MinimizeMayer(func(pt dynamo.Point) float64 { return pt.X[1] }).
		FixInitialState(1, 0).
		BoundControl(0, -2, 2).
		WithNames(ocp.Names{
			States:    []string{"x", "l"},
			Algebraic: []string{"z"},
			Controls:  []string{"u"},
		}).
		WithGuess(ocp.Guess{State: []float64{1, 0}, Algebraic: []float64{-0.5}})
}
