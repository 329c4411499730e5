package integrators

import (
	"fmt"
	"math"

	"github.com/khanhln2907/acado/internal/dynamo"
)

// Options controls Integrate. With Adaptive unset the interval is split into
// Steps equal steps.
type Options struct {
	Steps       int
	Adaptive    bool
	Tolerance   float64
	InitialStep float64
	MinStep     float64
	MaxStep     float64
	MaxSteps    int
}

func DefaultOptions() Options {
	return Options{
		Steps:     10,
		Tolerance: 1e-6,
		MinStep:   1e-10,
		MaxSteps:  100000,
	}
}

// Stats reports the work done by one call to Integrate.
type Stats struct {
	Steps       int
	Rejected    int
	Evaluations int
}

type counter interface {
	Evaluations() int
}

// Integrate advances pt from pt.T to t1.
func Integrate(integ dynamo.Integrator, sys dynamo.DAE, pt dynamo.Point, t1 float64, opts Options) (_ dynamo.Point, stats Stats, _ error) {
	span := t1 - pt.T
	if span < 0 {
		return pt, stats, fmt.Errorf("integrate: end time %.6g before start %.6g", t1, pt.T)
	}
	if span == 0 {
		return pt, stats, nil
	}

	before := 0
	if c, ok := integ.(counter); ok {
		before = c.Evaluations()
		defer func() {
			stats.Evaluations = c.Evaluations() - before
		}()
	}

	if opts.Adaptive {
		next, err := integrateAdaptive(integ, sys, pt, t1, opts, &stats)
		return next, stats, err
	}

	steps := opts.Steps
	if steps <= 0 {
		steps = 1
	}
	h := span / float64(steps)
	cur := pt
	for i := 0; i < steps; i++ {
		next, err := integ.Step(sys, cur, h)
		if err != nil {
			return cur, stats, &dynamo.SimulationError{Step: i, Time: cur.T, State: cur.X, Wrapped: err}
		}
		cur = next
		stats.Steps++
	}
	cur.T = t1
	return cur, stats, nil
}

func integrateAdaptive(integ dynamo.Integrator, sys dynamo.DAE, pt dynamo.Point, t1 float64, opts Options, stats *Stats) (dynamo.Point, error) {
	tol := opts.Tolerance
	if tol <= 0 {
		tol = 1e-6
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 100000
	}
	span := t1 - pt.T
	maxStep := opts.MaxStep
	if maxStep <= 0 {
		maxStep = span
	}
	h := opts.InitialStep
	if h <= 0 {
		h = span / 10
	}
	h = math.Min(h, maxStep)

	step := stepDoubling
	if ad, ok := integ.(dynamo.AdaptiveIntegrator); ok {
		step = func(_ dynamo.Integrator, sys dynamo.DAE, pt dynamo.Point, dt, tol float64) (dynamo.Point, float64, bool, error) {
			return ad.StepAdaptive(sys, pt, dt, tol)
		}
	}

	cur := pt
	eps := 1e-12 * math.Max(1, math.Abs(t1))
	for t1-cur.T > eps {
		if stats.Steps+stats.Rejected >= maxSteps {
			return cur, &dynamo.SimulationError{Step: stats.Steps, Time: cur.T, State: cur.X,
				Wrapped: fmt.Errorf("%w: %d steps exhausted", dynamo.ErrStepTooSmall, maxSteps)}
		}
		last := false
		if h >= t1-cur.T {
			h = t1 - cur.T
			last = true
		}

		next, hNew, accepted, err := step(integ, sys, cur, h, tol)
		if err != nil {
			return cur, &dynamo.SimulationError{Step: stats.Steps, Time: cur.T, State: cur.X, Wrapped: err}
		}
		if !accepted {
			stats.Rejected++
			if hNew < opts.MinStep {
				return cur, &dynamo.SimulationError{Step: stats.Steps, Time: cur.T, State: cur.X, Wrapped: dynamo.ErrStepTooSmall}
			}
			h = hNew
			continue
		}

		if last {
			next.T = t1
		}
		cur = next
		stats.Steps++
		h = math.Min(hNew, maxStep)
	}
	return cur, nil
}

// stepDoubling estimates the local error of a fixed-step integrator by
// comparing one full step against two half steps.
func stepDoubling(integ dynamo.Integrator, sys dynamo.DAE, pt dynamo.Point, dt, tol float64) (dynamo.Point, float64, bool, error) {
	full, err := integ.Step(sys, pt, dt)
	if err != nil {
		return pt, dt, false, err
	}
	half, err := integ.Step(sys, pt, dt/2)
	if err != nil {
		return pt, dt, false, err
	}
	two, err := integ.Step(sys, half, dt/2)
	if err != nil {
		return pt, dt, false, err
	}

	errMax := 0.0
	for i := range two.X {
		errMax = math.Max(errMax, math.Abs(full.X[i]-two.X[i])/(1+math.Abs(two.X[i])))
	}

	if errMax > tol {
		return pt, dt / 2, false, nil
	}
	if errMax < tol/10 {
		return two, dt * 2, true, nil
	}
	return two, dt, true, nil
}
