package integrators

import (
	"errors"
	"math"
	"testing"

	"github.com/khanhln2907/acado/internal/algebra"
	"github.com/khanhln2907/acado/internal/dynamo"
)

// decayDAE is dx/dt = z, 0 = z + k*x, whose solution is x(t) = x0*exp(-k*t).
type decayDAE struct {
	k float64
}

func (d *decayDAE) Dims() dynamo.Dims {
	return dynamo.Dims{Differential: 1, Algebraic: 1}
}

func (d *decayDAE) Derive(pt dynamo.Point) dynamo.State {
	return dynamo.State{pt.Z[0]}
}

func (d *decayDAE) Residual(pt dynamo.Point) dynamo.State {
	return dynamo.State{pt.Z[0] + d.k*pt.X[0]}
}

// tutorialDAE is dx/dt = -0.5x - z + u, 0 = z + exp(z) - 1 + x.
type tutorialDAE struct{}

func (tutorialDAE) Dims() dynamo.Dims {
	return dynamo.Dims{Differential: 1, Algebraic: 1, Control: 1}
}

func (tutorialDAE) Derive(pt dynamo.Point) dynamo.State {
	return dynamo.State{-0.5*pt.X[0] - pt.Z[0] + pt.U[0]}
}

func (tutorialDAE) Residual(pt dynamo.Point) dynamo.State {
	return dynamo.State{pt.Z[0] + math.Exp(pt.Z[0]) - 1 + pt.X[0]}
}

func TestIntegrators_DecayDAE(t *testing.T) {
	tests := []struct {
		name  string
		integ dynamo.Integrator
		steps int
		tol   float64
	}{
		{"euler", NewEuler(), 1000, 1e-3},
		{"implicit_euler", NewImplicitEuler(), 1000, 1e-3},
		{"rk4", NewRK4(), 100, 1e-6},
		{"rk45", NewRK45(), 100, 1e-6},
	}

	sys := &decayDAE{k: 1}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt := dynamo.Point{X: dynamo.State{1}, Z: dynamo.State{0}}
			opts := Options{Steps: tt.steps}

			end, stats, err := Integrate(tt.integ, sys, pt, 1.0, opts)
			if err != nil {
				t.Fatalf("integrate failed: %v", err)
			}
			if stats.Steps != tt.steps {
				t.Errorf("expected %d steps, got %d", tt.steps, stats.Steps)
			}
			if stats.Evaluations == 0 {
				t.Error("expected evaluations to be counted")
			}

			want := math.Exp(-1)
			if math.Abs(end.X[0]-want) > tt.tol {
				t.Errorf("x(1) = %.8f, want %.8f", end.X[0], want)
			}
			if r := math.Abs(end.Z[0] + end.X[0]); r > 1e-8 {
				t.Errorf("algebraic state inconsistent, residual %e", r)
			}
			if end.T != 1.0 {
				t.Errorf("expected end time 1, got %f", end.T)
			}
		})
	}
}

func TestIntegrate_Adaptive(t *testing.T) {
	sys := &decayDAE{k: 2}
	pt := dynamo.Point{X: dynamo.State{1}, Z: dynamo.State{0}}
	opts := DefaultOptions()
	opts.Adaptive = true
	opts.Tolerance = 1e-9

	for _, integ := range []dynamo.Integrator{NewRK45(), NewRK4()} {
		end, stats, err := Integrate(integ, sys, pt, 2.0, opts)
		if err != nil {
			t.Fatalf("%T: integrate failed: %v", integ, err)
		}
		want := math.Exp(-4)
		if math.Abs(end.X[0]-want) > 1e-6 {
			t.Errorf("%T: x(2) = %.8f, want %.8f", integ, end.X[0], want)
		}
		if stats.Steps == 0 {
			t.Errorf("%T: no steps recorded", integ)
		}
		if end.T != 2.0 {
			t.Errorf("%T: expected end time 2, got %f", integ, end.T)
		}
	}
}

func TestIntegrate_StepTooSmall(t *testing.T) {
	opts := Options{Adaptive: true, Tolerance: 1e-12, InitialStep: 1.0, MinStep: 0.5}
	pt := dynamo.Point{X: dynamo.State{1, 0}}

	_, _, err := Integrate(NewRK45(), &harmonicOscillator{}, pt, 10, opts)
	if !errors.Is(err, dynamo.ErrStepTooSmall) {
		t.Fatalf("expected ErrStepTooSmall, got %v", err)
	}
	var simErr *dynamo.SimulationError
	if !errors.As(err, &simErr) {
		t.Error("expected error to carry simulation context")
	}
}

func TestIntegrate_ZeroSpan(t *testing.T) {
	pt := dynamo.Point{T: 1, X: dynamo.State{1, 0}}
	end, stats, err := Integrate(NewRK4(), &harmonicOscillator{}, pt, 1, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Steps != 0 || end.X[0] != 1 {
		t.Errorf("zero span must return the input point, got %+v", end)
	}

	if _, _, err := Integrate(NewRK4(), &harmonicOscillator{}, pt, 0, DefaultOptions()); err == nil {
		t.Error("expected error for backwards span")
	}
}

func TestIntegrators_AgreeOnNonlinearDAE(t *testing.T) {
	pt := dynamo.Point{X: dynamo.State{1}, Z: dynamo.State{0}, U: dynamo.Control{-0.3}}

	rk4End, _, err := Integrate(NewRK4(), tutorialDAE{}, pt, 2.0, Options{Steps: 200})
	if err != nil {
		t.Fatalf("rk4 failed: %v", err)
	}
	adaptive := DefaultOptions()
	adaptive.Adaptive = true
	adaptive.Tolerance = 1e-10
	rk45End, _, err := Integrate(NewRK45(), tutorialDAE{}, pt, 2.0, adaptive)
	if err != nil {
		t.Fatalf("rk45 failed: %v", err)
	}
	ieEnd, _, err := Integrate(NewImplicitEuler(), tutorialDAE{}, pt, 2.0, Options{Steps: 4000})
	if err != nil {
		t.Fatalf("implicit euler failed: %v", err)
	}

	if math.Abs(rk4End.X[0]-rk45End.X[0]) > 1e-6 {
		t.Errorf("rk4 %.8f vs rk45 %.8f", rk4End.X[0], rk45End.X[0])
	}
	if math.Abs(rk4End.X[0]-ieEnd.X[0]) > 1e-3 {
		t.Errorf("rk4 %.8f vs implicit euler %.8f", rk4End.X[0], ieEnd.X[0])
	}
	g := rk4End.Z[0] + math.Exp(rk4End.Z[0]) - 1 + rk4End.X[0]
	if math.Abs(g) > 1e-9 {
		t.Errorf("end point violates algebraic equation: %e", g)
	}
}

func TestSetNewton(t *testing.T) {
	pt := dynamo.Point{X: dynamo.State{0.2}, Z: dynamo.State{0.5}, U: dynamo.Control{0}}

	rk := NewRK4()
	if _, err := rk.Step(tutorialDAE{}, pt, 0.1); err != nil {
		t.Fatalf("default newton: %v", err)
	}

	rk.SetNewton(&algebra.Newton{Tol: 1e-12, MaxIter: 0})
	if _, err := rk.Step(tutorialDAE{}, pt, 0.1); !errors.Is(err, dynamo.ErrNotConverged) {
		t.Errorf("expected ErrNotConverged from a newton without iterations, got %v", err)
	}
}
