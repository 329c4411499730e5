package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/khanhln2907/acado/internal/algebra"
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/integrators"
)

type Simulator struct {
	sys        dynamo.DAE
	integrator dynamo.Integrator
	controller dynamo.Controller
	newton     *algebra.Newton
	metrics    []dynamo.Metric
}

func New(sys dynamo.DAE, integrator dynamo.Integrator, controller dynamo.Controller) *Simulator {
	return &Simulator{
		sys:        sys,
		integrator: integrator,
		controller: controller,
		newton:     algebra.NewNewton(),
		metrics:    make([]dynamo.Metric, 0),
	}
}

func (s *Simulator) AddMetric(m dynamo.Metric) { s.metrics = append(s.metrics, m) }

// Run simulates from x0 on the uniform grid Start, Start+Dt, ... Start+Duration.
// z0 is only a guess: the initial algebraic state is made consistent first.
func (s *Simulator) Run(ctx context.Context, x0, z0 dynamo.State, p []float64, cfg Config) (*Result, error) {
	if err := s.validateConfig(cfg); err != nil {
		return nil, err
	}

	steps := int(math.Round(cfg.Duration / cfg.Dt))
	result := &Result{
		States:    make([]dynamo.State, 0, steps+1),
		Algebraic: make([]dynamo.State, 0, steps+1),
		Controls:  make([]dynamo.Control, 0, steps),
		Times:     make([]float64, 0, steps+1),
		Metrics:   make(map[string]float64),
		Errors:    make([]error, 0),
	}

	for _, m := range s.metrics {
		m.Reset()
	}

	pt, err := s.initial(x0, z0, p, cfg.Start)
	if err != nil {
		return nil, err
	}

	result.States = append(result.States, pt.X.Clone())
	result.Algebraic = append(result.Algebraic, pt.Z.Clone())
	result.Times = append(result.Times, pt.T)

	opts := s.integrateOptions(cfg)

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		pt, err = s.applyControl(pt, i)
		if err != nil {
			result.Errors = append(result.Errors, err)
			break
		}
		result.Algebraic[len(result.Algebraic)-1] = pt.Z.Clone()

		for _, m := range s.metrics {
			m.Observe(pt)
		}

		t1 := cfg.Start + float64(i+1)*cfg.Dt
		next, _, stepErr := integrators.Integrate(s.integrator, s.sys, pt, t1, opts)
		if stepErr != nil {
			result.Errors = append(result.Errors, stepErr)
			break
		}

		if cfg.ValidateState && !next.X.IsValid() {
			err := &dynamo.SimulationError{Step: i, Time: next.T, State: next.X, Wrapped: dynamo.ErrInvalidState}
			result.Errors = append(result.Errors, err)
			break
		}

		u := pt.U
		pt = next
		result.StepsTaken++

		result.States = append(result.States, pt.X.Clone())
		result.Algebraic = append(result.Algebraic, pt.Z.Clone())
		result.Controls = append(result.Controls, u)
		result.Times = append(result.Times, pt.T)
	}

	if len(result.Controls) > 0 {
		pt.U = result.Controls[len(result.Controls)-1]
		for _, m := range s.metrics {
			m.Observe(pt)
		}
	}

	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}

	return result, nil
}

func (s *Simulator) validateConfig(cfg Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f", cfg.Dt)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", cfg.Duration)
	}
	if cfg.Adaptive && cfg.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive for adaptive stepping")
	}
	return nil
}

func (s *Simulator) initial(x0, z0 dynamo.State, p []float64, t0 float64) (dynamo.Point, error) {
	dims := s.sys.Dims()
	if z0 == nil {
		z0 = make(dynamo.State, dims.Algebraic)
	}
	pt := dynamo.Point{T: t0, X: x0.Clone(), Z: z0.Clone(), U: make(dynamo.Control, dims.Control), P: p}
	if err := dims.Validate(pt); err != nil {
		return pt, err
	}
	if !pt.X.IsValid() {
		return pt, dynamo.ErrInvalidState
	}
	pt.U = s.controller.Compute(pt.X, pt.T)
	z, err := algebra.Consistent(s.sys, pt, s.newton)
	if err != nil {
		return pt, fmt.Errorf("initial algebraic state: %w", err)
	}
	pt.Z = z
	return pt, nil
}

// applyControl evaluates the controller at pt and, for a DAE, re-projects
// the algebraic states onto g(x, z, u, p) = 0 under the new control.
func (s *Simulator) applyControl(pt dynamo.Point, step int) (dynamo.Point, error) {
	pt.U = s.controller.Compute(pt.X, pt.T)
	if s.sys.Dims().Algebraic == 0 {
		return pt, nil
	}
	z, err := algebra.Consistent(s.sys, pt, s.newton)
	if err != nil {
		return pt, &dynamo.SimulationError{Step: step, Time: pt.T, State: pt.X, Wrapped: err}
	}
	pt.Z = z
	return pt, nil
}

func (s *Simulator) integrateOptions(cfg Config) integrators.Options {
	opts := integrators.DefaultOptions()
	opts.Steps = cfg.StepsPerSample
	if opts.Steps <= 0 {
		opts.Steps = 1
	}
	if cfg.Adaptive {
		opts.Adaptive = true
		opts.Tolerance = cfg.Tolerance
		opts.InitialStep = cfg.Dt
		opts.MaxStep = cfg.Dt
	}
	return opts
}

// RunWithCallback streams every grid point to callback until the horizon
// ends or callback returns false.
func (s *Simulator) RunWithCallback(ctx context.Context, x0, z0 dynamo.State, p []float64, cfg Config, callback func(dynamo.Point) bool) error {
	if err := s.validateConfig(cfg); err != nil {
		return err
	}

	pt, err := s.initial(x0, z0, p, cfg.Start)
	if err != nil {
		return err
	}
	opts := s.integrateOptions(cfg)
	steps := int(math.Round(cfg.Duration / cfg.Dt))

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pt, err = s.applyControl(pt, i)
		if err != nil {
			return err
		}

		if !callback(pt) {
			return nil
		}

		next, _, err := integrators.Integrate(s.integrator, s.sys, pt, cfg.Start+float64(i+1)*cfg.Dt, opts)
		if err != nil {
			return err
		}
		pt = next

		if cfg.ValidateState && !pt.X.IsValid() {
			return fmt.Errorf("invalid state at t=%.4f", pt.T)
		}
	}

	pt, err = s.applyControl(pt, steps)
	if err != nil {
		return err
	}
	callback(pt)
	return nil
}
