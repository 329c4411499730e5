package models

import (
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/ocp"
)

// PendulumDAE is a point mass on a rigid rod in Cartesian coordinates.
// States are (px, py, vx, vy), the algebraic state is the rod force per
// unit length and u is a horizontal force on the mass. The position
// constraint is differentiated twice so that the force is index 1:
//
//	0 = m|v|² + px·u - m·g·py - λ|p|²
type PendulumDAE struct {
	Mass    float64
	Length  float64
	Gravity float64
}

func NewPendulumDAE() *PendulumDAE {
	return &PendulumDAE{
		Mass:    1.0,
		Length:  1.0,
		Gravity: 9.81,
	}
}

func (p *PendulumDAE) Dims() dynamo.Dims {
	return dynamo.Dims{Differential: 4, Algebraic: 1, Control: 1}
}

func (p *PendulumDAE) Derive(pt dynamo.Point) dynamo.State {
	px, py, vx, vy := pt.X[0], pt.X[1], pt.X[2], pt.X[3]
	lambda, u := pt.Z[0], pt.U[0]
	return dynamo.State{
		vx,
		vy,
		(-lambda*px + u) / p.Mass,
		(-lambda*py)/p.Mass - p.Gravity,
	}
}

func (p *PendulumDAE) Residual(pt dynamo.Point) dynamo.State {
	px, py, vx, vy := pt.X[0], pt.X[1], pt.X[2], pt.X[3]
	lambda, u := pt.Z[0], pt.U[0]
	return dynamo.State{
		p.Mass*(vx*vx+vy*vy) + px*u - p.Mass*p.Gravity*py - lambda*(px*px+py*py),
	}
}

// PendulumProblem swings the hanging pendulum out to px = 0.5 and stops it
// there at t = 2 with minimum control energy.
func PendulumProblem() *ocp.Problem {
	m := NewPendulumDAE()
	return ocp.New("pendulum_dae", m, 0, 2, 20).
		MinimizeLagrange(func(pt dynamo.Point) float64 { return pt.U[0] * pt.U[0] }).
		FixInitialState(0, -m.Length, 0, 0).
		AtEnd("px", func(pt dynamo.Point) float64 { return pt.X[0] }, 0.5, 0.5).
		AtEnd("angular_rate", func(pt dynamo.Point) float64 {
			return pt.X[0]*pt.X[3] - pt.X[1]*pt.X[2]
		}, 0, 0).
		BoundControl(0, -20, 20).
		WithNames(ocp.Names{
			States:    []string{"px", "py", "vx", "vy"},
			Algebraic: []string{"lambda"},
			Controls:  []string{"u"},
		}).
		WithGuess(ocp.Guess{Algebraic: []float64{m.Mass * m.Gravity / m.Length}})
}
