package experiment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/khanhln2907/acado/internal/config"
	"github.com/khanhln2907/acado/internal/control"
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/metrics"
	"github.com/khanhln2907/acado/internal/nlp"
	"github.com/khanhln2907/acado/internal/ocp"
	"github.com/khanhln2907/acado/internal/sim"
	"go.uber.org/zap"
)

var ErrNotSetup = errors.New("experiment not setup")

// Guess parameter names understood by WithGuess. "control<i>" sets a single
// control component.
const (
	GuessEndTime = "end_time"
	GuessControl = "control"
)

type Config struct {
	Problem          string
	File             string
	Integrator       string
	Intervals        int
	StepsPerInterval int
	Workers          int
	NLP              nlp.Options

	// EndTime and Control override the problem's initial guess when set.
	EndTime float64
	Control []float64
	// ControlIndex holds single-component control overrides.
	ControlIndex map[int]float64

	Logger *zap.Logger
}

// FromConfig maps a file or preset configuration onto an experiment.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Problem:          cfg.Problem,
		File:             cfg.File,
		Integrator:       cfg.Integrator,
		Intervals:        cfg.Intervals,
		StepsPerInterval: cfg.StepsPerInterval,
		Workers:          cfg.Workers,
		NLP:              cfg.NLPOptions(),
		EndTime:          cfg.Guess.EndTime,
		Control:          append([]float64(nil), cfg.Guess.Control...),
	}
}

// WithGuess returns a copy of c with the named guess parameters applied.
func (c Config) WithGuess(params map[string]float64) (Config, error) {
	out := c
	out.Control = append([]float64(nil), c.Control...)
	out.ControlIndex = make(map[int]float64, len(c.ControlIndex))
	for k, v := range c.ControlIndex {
		out.ControlIndex[k] = v
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := params[name]
		switch {
		case name == GuessEndTime:
			out.EndTime = v
		case name == GuessControl:
			out.Control = nil
			out.ControlIndex[-1] = v
		default:
			var i int
			if _, err := fmt.Sscanf(name, GuessControl+"%d", &i); err != nil || i < 0 {
				return c, fmt.Errorf("unknown guess parameter: %s", name)
			}
			out.ControlIndex[i] = v
		}
	}
	return out, nil
}

type Experiment struct {
	cfg      Config
	registry *Registry
	problem  *ocp.Problem
	solver   *ocp.Solver
	logger   *zap.Logger
}

func New(cfg Config) *Experiment {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Experiment{cfg: cfg, registry: NewRegistry(), logger: logger}
}

// WithRegistry replaces the registry used to resolve integrators.
func (e *Experiment) WithRegistry(r *Registry) *Experiment {
	e.registry = r
	return e
}

// Setup applies the configured overrides to problem and prepares the solver.
// problem is modified in place.
func (e *Experiment) Setup(problem *ocp.Problem) error {
	if problem == nil || problem.Model == nil {
		return fmt.Errorf("setup: %w: no model", ocp.ErrInvalidProblem)
	}
	name := e.cfg.Integrator
	if name == "" {
		name = config.DefaultIntegrator
	}
	factory, err := e.registry.IntegratorFactory(name)
	if err != nil {
		return err
	}

	if e.cfg.Intervals > 0 && e.cfg.Intervals != problem.Horizon.Intervals {
		problem.Horizon.Intervals = e.cfg.Intervals
		problem.Guess.Controls = nil
	}
	if e.cfg.EndTime > 0 {
		problem.Guess.EndTime = e.cfg.EndTime
	}
	if err := e.applyControl(problem); err != nil {
		return err
	}
	if err := problem.Validate(); err != nil {
		return err
	}

	opts := ocp.DefaultOptions()
	opts.NLP = e.cfg.NLP
	if opts.NLP.MaxOuter == 0 {
		opts.NLP = nlp.DefaultOptions()
	}
	opts.NewIntegrator = factory
	if e.cfg.StepsPerInterval > 0 {
		opts.StepsPerInterval = e.cfg.StepsPerInterval
	}
	opts.Workers = e.cfg.Workers
	opts.FDStep = e.cfg.NLP.FDStep
	opts.Logger = e.logger

	e.problem = problem
	e.solver = ocp.NewSolver(problem, opts)
	return nil
}

func (e *Experiment) applyControl(problem *ocp.Problem) error {
	nu := problem.Model.Dims().Control
	if e.cfg.Control == nil && len(e.cfg.ControlIndex) == 0 {
		return nil
	}
	if e.cfg.Control != nil && len(e.cfg.Control) != nu {
		return fmt.Errorf("control guess has %d entries, problem %s has %d controls", len(e.cfg.Control), problem.Name, nu)
	}

	u := make([]float64, nu)
	copy(u, problem.Guess.Control)
	if e.cfg.Control != nil {
		copy(u, e.cfg.Control)
	}
	if v, ok := e.cfg.ControlIndex[-1]; ok {
		for j := range u {
			u[j] = v
		}
	}
	for i, v := range e.cfg.ControlIndex {
		if i < 0 {
			continue
		}
		if i >= nu {
			return fmt.Errorf("control%d out of range, problem %s has %d controls", i, problem.Name, nu)
		}
		u[i] = v
	}
	problem.Guess.Control = u
	problem.Guess.Controls = nil
	return nil
}

func (e *Experiment) Run(ctx context.Context) (*ocp.Solution, error) {
	if e.solver == nil {
		return nil, ErrNotSetup
	}
	return e.solver.Solve(ctx)
}

// Problem returns the problem after Setup.
func (e *Experiment) Problem() *ocp.Problem {
	return e.problem
}

// Simulate integrates the model forward from its initial state holding
// the controls constant. duration <= 0 uses the problem horizon.
func (e *Experiment) Simulate(ctx context.Context, u []float64, dt, duration float64) (*sim.Result, error) {
	if e.problem == nil {
		return nil, ErrNotSetup
	}
	p := e.problem
	d := p.Model.Dims()

	if u == nil {
		u = p.Guess.Control
	}
	if u == nil {
		u = make([]float64, d.Control)
	}
	if len(u) != d.Control {
		return nil, fmt.Errorf("%w: %d controls, want %d", dynamo.ErrDimensionMismatch, len(u), d.Control)
	}
	clamped := make([]float64, len(u))
	for j, v := range u {
		clamped[j] = v
		if j < len(p.ControlBounds) {
			clamped[j] = p.ControlBounds[j].Clamp(v)
		}
	}

	x0 := make(dynamo.State, d.Differential)
	copy(x0, p.Guess.State)
	if p.Initial != nil {
		copy(x0, p.Initial)
	}
	var z0 dynamo.State
	if p.Guess.Algebraic != nil {
		z0 = dynamo.State(p.Guess.Algebraic).Clone()
	}
	params := make([]float64, d.Parameter)
	copy(params, p.Guess.Parameters)

	if duration <= 0 {
		duration = p.Horizon.End - p.Horizon.Start
		if p.Horizon.FreeEnd && p.Guess.EndTime > p.Horizon.Start {
			duration = p.Guess.EndTime - p.Horizon.Start
		}
	}

	integ, err := e.registry.GetIntegrator(e.integratorName())
	if err != nil {
		return nil, err
	}
	simulator := sim.New(p.Model, integ, control.NewConstant(clamped))
	simulator.AddMetric(metrics.NewControlEffort())
	simulator.AddMetric(metrics.NewAlgebraicResidual(p.Model))
	for _, c := range p.Constraints {
		if c.Stage == ocp.Path {
			simulator.AddMetric(metrics.NewConstraintViolation(c.Name, c.Fn, c.Bound.Lower, c.Bound.Upper))
		}
	}

	cfg := sim.DefaultConfig()
	cfg.Dt = dt
	cfg.Start = p.Horizon.Start
	cfg.Duration = duration
	e.logger.Debug("simulating",
		zap.String("problem", p.Name),
		zap.Float64("dt", dt),
		zap.Float64("duration", duration),
	)
	return simulator.Run(ctx, x0, z0, params, cfg)
}

func (e *Experiment) integratorName() string {
	if e.cfg.Integrator == "" {
		return config.DefaultIntegrator
	}
	return e.cfg.Integrator
}
