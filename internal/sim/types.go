package sim

import "github.com/khanhln2907/acado/internal/dynamo"

type Config struct {
	Dt       float64
	Start    float64
	Duration float64
	// StepsPerSample subdivides every Dt for the integrator.
	StepsPerSample int
	Adaptive       bool
	Tolerance      float64
	ValidateState  bool
}

func DefaultConfig() Config {
	return Config{
		Dt:             0.01,
		Duration:       1.0,
		StepsPerSample: 1,
		Tolerance:      1e-6,
		ValidateState:  true,
	}
}

type Result struct {
	Times      []float64
	States     []dynamo.State
	Algebraic  []dynamo.State
	Controls   []dynamo.Control
	Metrics    map[string]float64
	StepsTaken int
	Errors     []error
}

// Final returns the last recorded point.
func (r *Result) Final() dynamo.Point {
	n := len(r.Times) - 1
	if n < 0 {
		return dynamo.Point{}
	}
	pt := dynamo.Point{T: r.Times[n], X: r.States[n], Z: r.Algebraic[n]}
	if len(r.Controls) > 0 {
		pt.U = r.Controls[len(r.Controls)-1]
	}
	return pt
}
