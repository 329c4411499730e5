package ocp

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/khanhln2907/acado/internal/algebra"
	"github.com/khanhln2907/acado/internal/control"
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/integrators"
	"github.com/khanhln2907/acado/internal/metrics"
	"github.com/khanhln2907/acado/internal/nlp"
	"github.com/khanhln2907/acado/internal/sim"
	"go.uber.org/zap"
)

type Options struct {
	NLP nlp.Options
	// NewIntegrator creates the integrator of one shooting interval.
	NewIntegrator    func() dynamo.Integrator
	StepsPerInterval int
	// Workers bounds the intervals integrated in parallel; <= 0 uses all CPUs.
	Workers int
	FDStep  float64
	Newton  *algebra.Newton
	Logger  *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		NLP:              nlp.DefaultOptions(),
		NewIntegrator:    func() dynamo.Integrator { return integrators.NewRK4() },
		StepsPerInterval: 10,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.NewIntegrator == nil {
		o.NewIntegrator = def.NewIntegrator
	}
	if o.StepsPerInterval <= 0 {
		o.StepsPerInterval = def.StepsPerInterval
	}
	if o.Newton == nil {
		o.Newton = algebra.NewNewton()
		o.Newton.Tol = 1e-12
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.NLP.Logger == nil {
		o.NLP.Logger = o.Logger.Named("nlp")
	}
	return o
}

// integrator builds one interval integrator that projects its algebraic
// states with the shared Newton settings.
func (o Options) integrator() dynamo.Integrator {
	integ := o.NewIntegrator()
	if ns, ok := integ.(interface{ SetNewton(*algebra.Newton) }); ok && o.Newton != nil {
		ns.SetNewton(o.Newton)
	}
	return integ
}

type Solver struct {
	Problem *Problem
	Options Options
}

func NewSolver(p *Problem, opts Options) *Solver {
	return &Solver{Problem: p, Options: opts}
}

// Solve transcribes the problem by multiple shooting and solves the NLP.
// A canceled context returns the best solution so far with the context
// error.
func (s *Solver) Solve(ctx context.Context) (*Solution, error) {
	if err := s.Problem.Validate(); err != nil {
		return nil, err
	}
	opts := s.Options.withDefaults()
	log := opts.Logger.With(zap.String("problem", s.Problem.Name))

	start := time.Now()
	tr := newTranscription(ctx, s.Problem, opts)
	w0 := tr.initialGuess()
	np := tr.nlpProblem()
	log.Info("solving",
		zap.Int("variables", np.Dim),
		zap.Int("equalities", np.NumEq),
		zap.Int("inequalities", np.NumIneq),
		zap.Int("intervals", tr.l.n),
	)

	res, err := nlp.Solve(ctx, np, w0, opts.NLP)
	if res == nil {
		return nil, fmt.Errorf("solve %s: %w", s.Problem.Name, err)
	}

	sol := tr.solution(res)
	sol.Elapsed = time.Since(start)
	log.Info("solved",
		zap.Stringer("status", sol.Status),
		zap.Float64("objective", sol.Objective),
		zap.Float64("violation", sol.Violation),
		zap.Duration("elapsed", sol.Elapsed),
	)
	return sol, err
}

type Solution struct {
	Problem    string
	Status     nlp.Status
	Objective  float64
	Violation  float64
	EndTime    float64
	Parameters []float64

	Times     []float64
	States    []dynamo.State
	Algebraic []dynamo.State
	// Controls holds one vector per interval.
	Controls []dynamo.Control

	Iterations   []nlp.Iteration
	Evaluations  int
	Integrations int
	Elapsed      time.Duration

	problem *Problem
	options Options
}

func (t *transcription) solution(res *nlp.Result) *Solution {
	l := t.l
	w := res.X
	tf := t.endTime(w)
	sol := &Solution{
		Problem:      t.prob.Name,
		Status:       res.Status,
		Objective:    res.Objective,
		Violation:    res.Violation,
		EndTime:      tf,
		Parameters:   append([]float64(nil), l.params(w)...),
		Times:        make([]float64, l.n+1),
		States:       make([]dynamo.State, l.n+1),
		Algebraic:    make([]dynamo.State, l.n+1),
		Controls:     make([]dynamo.Control, l.n),
		Iterations:   res.Iterations,
		Evaluations:  res.Evaluations,
		Integrations: int(t.integrations.Load()),
		problem:      t.prob,
		options:      t.opts,
	}

	var zNodes []dynamo.State
	if t.ctx.Err() == nil {
		if ev := t.evaluate(w); ev.err == nil {
			zNodes = ev.zNodes
		}
	}
	for k := 0; k <= l.n; k++ {
		sol.Times[k] = t.nodeTime(k, tf)
		sol.States[k] = dynamo.State(l.state(w, k)).Clone()
		if zNodes != nil {
			sol.Algebraic[k] = zNodes[k].Clone()
		} else {
			sol.Algebraic[k] = t.zNode[k].Clone()
		}
		if k < l.n {
			sol.Controls[k] = dynamo.Control(l.control(w, k)).Clone()
		}
	}
	return sol
}

// Names returns the variable names of the solved problem.
func (s *Solution) Names() Names {
	if s.problem == nil {
		return Names{}
	}
	return Names{
		States:     s.problem.StateNames(),
		Algebraic:  s.problem.AlgebraicNames(),
		Controls:   s.problem.ControlNames(),
		Parameters: s.problem.ParameterNames(),
	}
}

// Feasible reports whether the solution satisfies all constraints to tol.
func (s *Solution) Feasible(tol float64) bool {
	return s.Violation <= tol && !math.IsNaN(s.Objective)
}

// Trajectory re-simulates the optimal controls from the first node on a
// grid of at most dt, reporting control effort, algebraic residual and
// path constraint violations as metrics.
func (s *Solution) Trajectory(ctx context.Context, dt float64) (*sim.Result, error) {
	if s.problem == nil {
		return nil, fmt.Errorf("solution of %s has no problem attached", s.Problem)
	}
	if dt <= 0 {
		return nil, fmt.Errorf("dt must be positive, got %f", dt)
	}
	n := len(s.Controls)
	h := (s.EndTime - s.Times[0]) / float64(n)
	samples := int(math.Ceil(h/dt - 1e-9))
	if samples < 1 {
		samples = 1
	}

	controls := make([][]float64, n)
	for i, u := range s.Controls {
		controls[i] = u
	}
	sched, err := control.NewPiecewiseConstant(s.Times, controls)
	if err != nil {
		return nil, err
	}

	opts := s.options.withDefaults()
	simulator := sim.New(s.problem.Model, opts.integrator(), sched)
	simulator.AddMetric(metrics.NewControlEffort())
	simulator.AddMetric(metrics.NewAlgebraicResidual(s.problem.Model))
	for _, c := range s.problem.Constraints {
		if c.Stage == Path {
			simulator.AddMetric(metrics.NewConstraintViolation(c.Name, c.Fn, c.Bound.Lower, c.Bound.Upper))
		}
	}

	cfg := sim.Config{
		Dt:             h / float64(samples),
		Start:          s.Times[0],
		Duration:       s.EndTime - s.Times[0],
		StepsPerSample: int(math.Max(1, math.Ceil(float64(opts.StepsPerInterval)/float64(samples)))),
		ValidateState:  true,
	}
	return simulator.Run(ctx, s.States[0], s.Algebraic[0], s.Parameters, cfg)
}
