package integrators

import (
	"math"
	"testing"

	"github.com/khanhln2907/acado/internal/dynamo"
)

type harmonicOscillator struct{}

func (h *harmonicOscillator) Dims() dynamo.Dims { return dynamo.Dims{Differential: 2} }

func (h *harmonicOscillator) Derive(pt dynamo.Point) dynamo.State {
	return dynamo.State{pt.X[1], -pt.X[0]}
}

func (h *harmonicOscillator) Residual(dynamo.Point) dynamo.State { return nil }

func (h *harmonicOscillator) Energy(x dynamo.State) float64 {
	return 0.5 * (x[0]*x[0] + x[1]*x[1])
}

func TestRK45_Step(t *testing.T) {
	integrator := NewRK45()
	dyn := &harmonicOscillator{}
	pt := dynamo.Point{X: dynamo.State{1.0, 0.0}}
	dt := 0.01

	for i := 0; i < 1000; i++ {
		next, err := integrator.Step(dyn, pt, dt)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		pt = next
	}

	if !pt.X.IsValid() {
		t.Error("RK45 produced invalid state")
	}
}

func TestRK45_EnergyConservation(t *testing.T) {
	integrator := NewRK45()
	dyn := &harmonicOscillator{}
	pt := dynamo.Point{X: dynamo.State{1.0, 0.0}}

	initialEnergy := dyn.Energy(pt.X)
	dt := 0.01

	for i := 0; i < 10000; i++ {
		next, err := integrator.Step(dyn, pt, dt)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		pt = next
	}

	finalEnergy := dyn.Energy(pt.X)
	drift := math.Abs(finalEnergy-initialEnergy) / initialEnergy

	if drift > 1e-6 {
		t.Errorf("RK45 energy drift too high: %e", drift)
	}
}

func TestRK45_AdaptiveStep(t *testing.T) {
	integrator := NewRK45()
	dyn := &harmonicOscillator{}
	pt := dynamo.Point{X: dynamo.State{1.0, 0.0}}

	next, newDt, accepted, err := integrator.StepAdaptive(dyn, pt, 0.1, 1e-8)
	if err != nil {
		t.Errorf("StepAdaptive returned error: %v", err)
	}

	if newDt <= 0 {
		t.Errorf("StepAdaptive returned invalid dt: %f", newDt)
	}

	if accepted && !next.X.IsValid() {
		t.Error("StepAdaptive produced invalid state")
	}
	if !accepted && newDt >= 0.1 {
		t.Errorf("rejected step must shrink dt, got %f", newDt)
	}
}

func TestRK45_RejectsLargeStep(t *testing.T) {
	integrator := NewRK45()
	dyn := &harmonicOscillator{}
	pt := dynamo.Point{X: dynamo.State{1.0, 0.0}}

	next, newDt, accepted, err := integrator.StepAdaptive(dyn, pt, 3.0, 1e-12)
	if err != nil {
		t.Fatalf("StepAdaptive returned error: %v", err)
	}
	if accepted {
		t.Fatal("expected step of 3.0 at tol 1e-12 to be rejected")
	}
	if next.T != pt.T {
		t.Errorf("rejected step must not advance time, got %f", next.T)
	}
	if newDt >= 3.0 {
		t.Errorf("expected smaller dt, got %f", newDt)
	}
}

func TestRK45_VsRK4_Accuracy(t *testing.T) {
	rk4 := NewRK4()
	rk45 := NewRK45()
	dyn := &harmonicOscillator{}

	p4 := dynamo.Point{X: dynamo.State{1.0, 0.0}}
	p45 := p4.Clone()
	dt := 0.1

	for i := 0; i < 100; i++ {
		p4, _ = rk4.Step(dyn, p4, dt)
		p45, _ = rk45.Step(dyn, p45, dt)
	}

	t.Logf("RK4 final: [%.6f, %.6f]", p4.X[0], p4.X[1])
	t.Logf("RK45 final: [%.6f, %.6f]", p45.X[0], p45.X[1])

	e4 := dyn.Energy(p4.X)
	e45 := dyn.Energy(p45.X)

	if math.Abs(e45-0.5) > math.Abs(e4-0.5) {
		t.Log("Warning: RK45 not more accurate than RK4 for this case")
	}
}
