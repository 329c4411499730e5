package control

import (
	"testing"

	"github.com/khanhln2907/acado/internal/dynamo"
)

func TestZero(t *testing.T) {
	ctrl := NewZero(2)
	u := ctrl.Compute(dynamo.State{1.0, 2.0}, 0.0)

	if len(u) != 2 {
		t.Errorf("expected 2 controls, got %d", len(u))
	}
	for i, v := range u {
		if v != 0 {
			t.Errorf("control[%d] should be 0, got %f", i, v)
		}
	}
}

func TestConstant(t *testing.T) {
	ctrl := NewConstant([]float64{1.5, -2})

	u := ctrl.Compute(nil, 3.0)
	if u[0] != 1.5 || u[1] != -2 {
		t.Errorf("unexpected control %v", u)
	}

	u[0] = 99
	if ctrl.Compute(nil, 0)[0] != 1.5 {
		t.Error("Compute must return a copy")
	}

	ctrl.SetControl([]float64{3})
	if ctrl.U[0] != 1.5 {
		t.Error("SetControl accepted a vector of the wrong length")
	}
	ctrl.SetControl([]float64{3, 4})
	if ctrl.U[0] != 3 || ctrl.U[1] != 4 {
		t.Errorf("SetControl failed: %v", ctrl.U)
	}
}

func TestPiecewiseConstant(t *testing.T) {
	times := []float64{0, 1, 2, 3}
	controls := [][]float64{{10}, {20}, {30}}

	sched, err := NewPiecewiseConstant(times, controls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		t    float64
		want float64
	}{
		{-1, 10},
		{0, 10},
		{0.999, 10},
		{1, 20},
		{2.5, 30},
		{3, 30},
		{10, 30},
	}
	for _, tt := range tests {
		if got := sched.Compute(nil, tt.t)[0]; got != tt.want {
			t.Errorf("Compute(t=%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestPiecewiseConstant_Invalid(t *testing.T) {
	if _, err := NewPiecewiseConstant(nil, nil); err == nil {
		t.Error("expected error for empty schedule")
	}
	if _, err := NewPiecewiseConstant([]float64{0, 1, 2, 3, 4}, [][]float64{{1}, {2}}); err == nil {
		t.Error("expected error for length mismatch")
	}
	if _, err := NewPiecewiseConstant([]float64{0, 0}, [][]float64{{1}, {2}}); err == nil {
		t.Error("expected error for non-increasing times")
	}
}

func TestPiecewiseConstant_RoundedGridTime(t *testing.T) {
	sched, err := NewPiecewiseConstant([]float64{0, 0.1, 0.2}, [][]float64{{1}, {2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// sample time carrying rounding error
	if got := sched.Compute(nil, 0.1-1e-15)[0]; got != 2 {
		t.Errorf("expected the second control at a rounded grid time, got %v", got)
	}
}
