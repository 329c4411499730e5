package metrics

import (
	"math"
	"testing"

	"github.com/khanhln2907/acado/internal/dynamo"
)

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()

	m.Observe(dynamo.Point{U: dynamo.Control{1, -1}})
	m.Observe(dynamo.Point{U: dynamo.Control{0, 2}})

	if got := m.Value(); math.Abs(got-2.0) > 1e-12 {
		t.Errorf("expected mean effort 2, got %f", got)
	}

	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero effort after reset")
	}
}

func TestControlEffort_TimeWeighted(t *testing.T) {
	m := NewControlEffort()

	// |u| = 4 for 0.1s, then 1 for 0.3s
	m.Observe(dynamo.Point{T: 0, U: dynamo.Control{4}})
	m.Observe(dynamo.Point{T: 0.1, U: dynamo.Control{-1}})
	m.Observe(dynamo.Point{T: 0.4, U: dynamo.Control{-1}})

	if got := m.Value(); math.Abs(got-1.75) > 1e-12 {
		t.Errorf("expected weighted effort 1.75, got %f", got)
	}
}

type circleDAE struct{}

func (circleDAE) Dims() dynamo.Dims                   { return dynamo.Dims{Differential: 1, Algebraic: 1} }
func (circleDAE) Derive(pt dynamo.Point) dynamo.State { return dynamo.State{pt.Z[0]} }
func (circleDAE) Residual(pt dynamo.Point) dynamo.State {
	return dynamo.State{pt.X[0]*pt.X[0] + pt.Z[0]*pt.Z[0] - 1}
}

func TestAlgebraicResidual(t *testing.T) {
	m := NewAlgebraicResidual(circleDAE{})

	m.Observe(dynamo.Point{X: dynamo.State{1}, Z: dynamo.State{0}})
	if m.Value() != 0 {
		t.Errorf("expected zero residual on the manifold, got %f", m.Value())
	}

	m.Observe(dynamo.Point{X: dynamo.State{1}, Z: dynamo.State{0.5}})
	m.Observe(dynamo.Point{X: dynamo.State{0}, Z: dynamo.State{0}})
	if math.Abs(m.Value()-1) > 1e-12 {
		t.Errorf("expected max residual 1, got %f", m.Value())
	}

	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestConstraintViolation(t *testing.T) {
	speed := func(pt dynamo.Point) float64 { return pt.X[0] }
	m := NewConstraintViolation("speed", speed, -0.1, 1.7)

	for _, v := range []float64{0, 1.0, 1.9, -0.4, 1.7} {
		m.Observe(dynamo.Point{X: dynamo.State{v}})
	}

	if m.Name() != "speed" {
		t.Errorf("unexpected name %q", m.Name())
	}
	if math.Abs(m.Value()-0.3) > 1e-12 {
		t.Errorf("expected worst violation 0.3, got %f", m.Value())
	}
	if math.Abs(m.Fraction()-0.4) > 1e-12 {
		t.Errorf("expected violation fraction 0.4, got %f", m.Fraction())
	}
}

func TestConstraintViolation_InfiniteBounds(t *testing.T) {
	m := NewConstraintViolation("free", func(pt dynamo.Point) float64 { return pt.X[0] }, math.Inf(-1), math.Inf(1))
	m.Observe(dynamo.Point{X: dynamo.State{1e300}})
	if m.Value() != 0 {
		t.Errorf("infinite bounds must never be violated, got %f", m.Value())
	}
}
