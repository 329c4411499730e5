package dynamo

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	if s == nil {
		return nil
	}
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// MaxAbs returns the infinity norm.
func (s State) MaxAbs() float64 {
	m := 0.0
	for _, v := range s {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

type Control []float64

func (c Control) Clone() Control {
	if c == nil {
		return nil
	}
	out := make(Control, len(c))
	copy(out, c)
	return out
}

// Point is a single evaluation point of a DAE.
type Point struct {
	T float64
	X State
	Z State
	U Control
	P []float64
}

// Clone returns a deep copy of the point.
func (p Point) Clone() Point {
	out := Point{T: p.T, X: p.X.Clone(), Z: p.Z.Clone(), U: p.U.Clone()}
	if p.P != nil {
		out.P = make([]float64, len(p.P))
		copy(out.P, p.P)
	}
	return out
}

// Dims holds the component counts of a DAE.
type Dims struct {
	Differential int
	Algebraic    int
	Control      int
	Parameter    int
}

// Validate checks the slice lengths of pt against d.
func (d Dims) Validate(pt Point) error {
	switch {
	case len(pt.X) != d.Differential:
		return fmt.Errorf("%w: %d differential states, want %d", ErrDimensionMismatch, len(pt.X), d.Differential)
	case len(pt.Z) != d.Algebraic:
		return fmt.Errorf("%w: %d algebraic states, want %d", ErrDimensionMismatch, len(pt.Z), d.Algebraic)
	case len(pt.U) != d.Control:
		return fmt.Errorf("%w: %d controls, want %d", ErrDimensionMismatch, len(pt.U), d.Control)
	case len(pt.P) != d.Parameter:
		return fmt.Errorf("%w: %d parameters, want %d", ErrDimensionMismatch, len(pt.P), d.Parameter)
	}
	return nil
}

// DAE is a semi-explicit index-1 differential-algebraic system.
// Derive returns f and Residual returns g; len(Residual) == Dims().Algebraic.
// Systems without algebraic states may return nil from Residual.
type DAE interface {
	Dims() Dims
	Derive(pt Point) State
	Residual(pt Point) State
}

// Integrator advances pt by dt with pt.U and pt.P held constant. The returned
// point has T = pt.T + dt and a Z consistent with its X.
type Integrator interface {
	Step(sys DAE, pt Point, dt float64) (Point, error)
}

// AdaptiveIntegrator additionally returns a suggested next step size.
// A step whose error exceeds tol is still returned with accepted == false.
type AdaptiveIntegrator interface {
	Integrator
	StepAdaptive(sys DAE, pt Point, dt, tol float64) (next Point, dtNew float64, accepted bool, err error)
}

type Controller interface {
	Compute(x State, t float64) Control
}

type Metric interface {
	Name() string
	Observe(pt Point)
	Value() float64
	Reset()
}
