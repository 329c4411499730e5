package nlp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// failValue replaces the merit function at points that cannot be evaluated
// so that the line search backs off instead of aborting.
const failValue = 1e30

const maxMultiplier = 1e12

type solver struct {
	p    *Problem
	opts Options
	log  *zap.Logger
	ev   *evaluator

	lowerIdx []int
	upperIdx []int
	lower    []float64
	upper    []float64

	lam []float64
	mu  []float64
	rho float64
}

// Solve minimizes p from w0. The returned error is non-nil for malformed
// input and on context cancellation; numerical trouble is reported through
// Result.Status.
func Solve(ctx context.Context, p Problem, w0 []float64, opts Options) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(w0) != p.Dim {
		return nil, fmt.Errorf("%w: start point has %d entries, want %d", ErrInvalidProblem, len(w0), p.Dim)
	}
	opts = withDefaults(opts)

	s := &solver{p: &p, opts: opts, log: opts.Logger, ev: newEvaluator(&p, opts.FDStep), rho: opts.InitialPenalty}
	for i := 0; i < p.Dim; i++ {
		lo, up := p.bound(i)
		if !math.IsInf(lo, -1) {
			s.lowerIdx = append(s.lowerIdx, i)
			s.lower = append(s.lower, lo)
		}
		if !math.IsInf(up, 1) {
			s.upperIdx = append(s.upperIdx, i)
			s.upper = append(s.upper, up)
		}
	}
	s.lam = make([]float64, p.NumEq)
	s.mu = make([]float64, p.NumIneq+len(s.lowerIdx)+len(s.upperIdx))

	return s.run(ctx, append([]float64(nil), w0...))
}

func withDefaults(o Options) Options {
	def := DefaultOptions()
	if o.MaxOuter <= 0 {
		o.MaxOuter = def.MaxOuter
	}
	if o.MaxInner <= 0 {
		o.MaxInner = def.MaxInner
	}
	if o.FeasibilityTol <= 0 {
		o.FeasibilityTol = def.FeasibilityTol
	}
	if o.StationarityTol <= 0 {
		o.StationarityTol = def.StationarityTol
	}
	if o.InitialPenalty <= 0 {
		o.InitialPenalty = def.InitialPenalty
	}
	if o.PenaltyGrowth <= 1 {
		o.PenaltyGrowth = def.PenaltyGrowth
	}
	if o.MaxPenalty <= 0 {
		o.MaxPenalty = def.MaxPenalty
	}
	if o.ProgressRatio <= 0 || o.ProgressRatio >= 1 {
		o.ProgressRatio = def.ProgressRatio
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (s *solver) run(ctx context.Context, w []float64) (*Result, error) {
	res := &Result{X: w}
	if err := ctx.Err(); err != nil {
		return s.finish(res, w, Canceled), err
	}

	v := s.ev.values(w)
	if v.err != nil {
		s.log.Warn("start point cannot be evaluated", zap.Error(v.err))
		res.Err = v.err
		return s.finish(res, w, EvaluationFailed), nil
	}
	prevViol := s.violation(v)
	omega := math.Max(s.opts.StationarityTol, 1e-2)

	for k := 0; k < s.opts.MaxOuter; k++ {
		if err := ctx.Err(); err != nil {
			return s.finish(res, w, Canceled), err
		}

		next, inner, err := s.minimize(ctx, w, omega)
		if err != nil {
			s.log.Debug("subproblem stopped early", zap.Int("outer", k), zap.Error(err))
		}
		if next != nil {
			w = next
		}
		if ctx.Err() != nil {
			return s.finish(res, w, Canceled), ctx.Err()
		}

		v = s.ev.values(w)
		if v.err != nil {
			s.log.Warn("iterate cannot be evaluated", zap.Int("outer", k), zap.Error(v.err))
			res.Err = v.err
			return s.finish(res, w, EvaluationFailed), nil
		}
		stat := s.stationarity(w)
		viol := s.violation(v)

		res.Iterations = append(res.Iterations, Iteration{
			Outer:        k,
			Objective:    v.f,
			Violation:    viol,
			Stationarity: stat,
			Penalty:      s.rho,
			Inner:        inner,
		})
		s.log.Debug("outer iteration",
			zap.Int("outer", k),
			zap.Float64("objective", v.f),
			zap.Float64("violation", viol),
			zap.Float64("stationarity", stat),
			zap.Float64("penalty", s.rho),
			zap.Int("inner", inner),
		)

		s.updateMultipliers(v)

		if viol <= s.opts.FeasibilityTol && stat <= s.opts.StationarityTol*(1+math.Abs(v.f)) {
			return s.finish(res, w, Converged), nil
		}

		if viol > s.opts.ProgressRatio*prevViol {
			s.rho = math.Min(s.rho*s.opts.PenaltyGrowth, s.opts.MaxPenalty)
		}
		prevViol = viol
		omega = math.Max(s.opts.StationarityTol, omega*0.1)
	}

	return s.finish(res, w, MaxIterations), nil
}

func (s *solver) finish(res *Result, w []float64, status Status) *Result {
	v := s.ev.values(w)
	res.X = w
	res.Status = status
	res.Objective = v.f
	if v.err == nil {
		res.Violation = s.violation(v)
	} else {
		res.Violation = math.Inf(1)
	}
	if n := len(res.Iterations); n > 0 {
		res.Stationarity = res.Iterations[n-1].Stationarity
	}
	res.EqMultipliers = append([]float64(nil), s.lam...)
	res.IneqMultipliers = append([]float64(nil), s.mu[:s.p.NumIneq]...)
	res.Evaluations = s.ev.evals
	s.log.Info("nlp finished",
		zap.Stringer("status", status),
		zap.Float64("objective", res.Objective),
		zap.Float64("violation", res.Violation),
		zap.Int("outer", len(res.Iterations)),
		zap.Int("evaluations", res.Evaluations),
	)
	return res
}

// minimize runs L-BFGS on the augmented Lagrangian at the current
// multipliers and penalty.
func (s *solver) minimize(ctx context.Context, w []float64, omega float64) ([]float64, int, error) {
	problem := optimize.Problem{
		Func: s.merit,
		Grad: s.meritGrad,
	}
	settings := &optimize.Settings{
		GradientThreshold: omega,
		MajorIterations:   s.opts.MaxInner,
		Converger: &ctxConverger{
			ctx:  ctx,
			next: &optimize.FunctionConverge{Absolute: 1e-14, Relative: 1e-14, Iterations: 25},
		},
	}
	result, err := optimize.Minimize(problem, w, settings, &optimize.LBFGS{})
	if result == nil {
		return nil, 0, err
	}
	if s.ev.values(result.X).err != nil {
		return nil, result.MajorIterations, errors.Join(err, s.ev.values(result.X).err)
	}
	return result.X, result.MajorIterations, err
}

func (s *solver) merit(w []float64) float64 {
	v := s.ev.values(w)
	if v.err != nil {
		return failValue
	}
	L := v.f
	for i, ci := range v.c {
		L += s.lam[i]*ci + 0.5*s.rho*ci*ci
	}
	s.eachIneq(v, func(j int, hj float64) {
		t := math.Max(0, s.mu[j]-s.rho*hj)
		L += (t*t - s.mu[j]*s.mu[j]) / (2 * s.rho)
	})
	return L
}

func (s *solver) meritGrad(grad, w []float64) {
	v := s.ev.values(w)
	d := s.ev.derivatives(w)
	if v.err != nil || d.err != nil {
		for i := range grad {
			grad[i] = 0
		}
		return
	}
	s.lagrangianGrad(grad, v, d, func(i int) float64 {
		return s.lam[i] + s.rho*v.c[i]
	}, func(j int, hj float64) float64 {
		return math.Max(0, s.mu[j]-s.rho*hj)
	})
}

// lagrangianGrad writes ∇f + Jcᵀ·eq - Jhᵀ·ineq into grad, including the
// rows of the bound inequalities.
func (s *solver) lagrangianGrad(grad []float64, v *values, d *derivatives, eq func(i int) float64, ineq func(j int, hj float64) float64) {
	copy(grad, d.grad)
	n := s.p.Dim

	if d.jc != nil {
		coef := make([]float64, s.p.NumEq)
		for i := range coef {
			coef[i] = eq(i)
		}
		var tmp mat.VecDense
		tmp.MulVec(d.jc.T(), mat.NewVecDense(len(coef), coef))
		floats.Add(grad, tmp.RawVector().Data[:n])
	}

	if d.jh != nil {
		coef := make([]float64, s.p.NumIneq)
		for j := range coef {
			coef[j] = ineq(j, v.h[j])
		}
		var tmp mat.VecDense
		tmp.MulVec(d.jh.T(), mat.NewVecDense(len(coef), coef))
		floats.AddScaled(grad, -1, tmp.RawVector().Data[:n])
	}

	off := s.p.NumIneq
	for k, i := range s.lowerIdx {
		grad[i] -= ineq(off+k, v.w[i]-s.lower[k])
	}
	off += len(s.lowerIdx)
	for k, i := range s.upperIdx {
		grad[i] += ineq(off+k, s.upper[k]-v.w[i])
	}
}

// eachIneq visits the user inequalities followed by the finite bounds.
func (s *solver) eachIneq(v *values, fn func(j int, hj float64)) {
	for j, hj := range v.h {
		fn(j, hj)
	}
	off := s.p.NumIneq
	for k, i := range s.lowerIdx {
		fn(off+k, v.w[i]-s.lower[k])
	}
	off += len(s.lowerIdx)
	for k, i := range s.upperIdx {
		fn(off+k, s.upper[k]-v.w[i])
	}
}

func (s *solver) violation(v *values) float64 {
	viol := 0.0
	for _, ci := range v.c {
		viol = math.Max(viol, math.Abs(ci))
	}
	s.eachIneq(v, func(_ int, hj float64) {
		viol = math.Max(viol, -hj)
	})
	return viol
}

// stationarity is the max-norm of the Lagrangian gradient at the updated
// multipliers, which equals the augmented Lagrangian gradient.
func (s *solver) stationarity(w []float64) float64 {
	grad := make([]float64, s.p.Dim)
	s.meritGrad(grad, w)
	return floats.Norm(grad, math.Inf(1))
}

func (s *solver) updateMultipliers(v *values) {
	for i, ci := range v.c {
		s.lam[i] = clamp(s.lam[i]+s.rho*ci, -maxMultiplier, maxMultiplier)
	}
	s.eachIneq(v, func(j int, hj float64) {
		s.mu[j] = math.Min(math.Max(0, s.mu[j]-s.rho*hj), maxMultiplier)
	})
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// ctxConverger stops a subproblem once ctx is done.
type ctxConverger struct {
	ctx  context.Context
	next optimize.Converger
}

func (c *ctxConverger) Init(dim int) { c.next.Init(dim) }

func (c *ctxConverger) Converged(loc *optimize.Location) optimize.Status {
	if c.ctx.Err() != nil {
		return optimize.RuntimeLimit
	}
	return c.next.Converged(loc)
}
