package ocp

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/khanhln2907/acado/internal/algebra"
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/integrators"
	"github.com/khanhln2907/acado/internal/nlp"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// nodeRow maps one value of a node function to an NLP constraint row:
// sign * (value - offset).
type nodeRow struct {
	fn     int
	eq     bool
	row    int
	sign   float64
	offset float64
}

type evaluation struct {
	w      []float64
	ends   [][]float64
	nodes  [][]float64
	zNodes []dynamo.State
	err    error
}

type derivative struct {
	w     []float64
	ends  []*mat.Dense
	nodes []*mat.Dense
	err   error
}

// transcription turns a Problem into a multiple-shooting NLP.
type transcription struct {
	ctx  context.Context
	prob *Problem
	opts Options
	l    layout

	sys    dynamo.DAE
	quad   bool
	newton *algebra.Newton
	integs []dynamo.Integrator
	steps  integrators.Options

	fns   [][]PointFunc
	rows  [][]nodeRow
	mayer int
	numEq int
	numIn int

	zShoot []dynamo.State
	zNode  []dynamo.State

	evalCache *evaluation
	derCache  *derivative

	integrations atomic.Int64
}

func newTranscription(ctx context.Context, p *Problem, opts Options) *transcription {
	d := p.Model.Dims()
	t := &transcription{
		ctx:    ctx,
		prob:   p,
		opts:   opts,
		l:      newLayout(d, p.Horizon),
		sys:    p.Model,
		newton: opts.Newton,
		mayer:  -1,
	}
	if p.Lagrange != nil {
		t.sys = withQuadrature(p.Model, p.Lagrange)
		t.quad = true
	}

	t.steps = integrators.DefaultOptions()
	t.steps.Steps = opts.StepsPerInterval

	n := t.l.n
	t.integs = make([]dynamo.Integrator, n)
	for i := range t.integs {
		t.integs[i] = opts.integrator()
	}

	zGuess := make(dynamo.State, d.Algebraic)
	copy(zGuess, p.Guess.Algebraic)
	t.zShoot = make([]dynamo.State, n)
	t.zNode = make([]dynamo.State, n+1)
	for k := range t.zNode {
		t.zNode[k] = zGuess.Clone()
		if k < n {
			t.zShoot[k] = zGuess.Clone()
		}
	}

	t.buildRows()
	return t
}

func (t *transcription) buildRows() {
	n, nx := t.l.n, t.l.nx
	t.fns = make([][]PointFunc, n+1)
	t.rows = make([][]nodeRow, n+1)
	t.numEq = n * nx

	add := func(k int, fn PointFunc, b Bound) {
		idx := len(t.fns[k])
		t.fns[k] = append(t.fns[k], fn)
		if b.Equality() {
			t.rows[k] = append(t.rows[k], nodeRow{fn: idx, eq: true, row: t.numEq, sign: 1, offset: b.Lower})
			t.numEq++
			return
		}
		if !math.IsInf(b.Lower, -1) {
			t.rows[k] = append(t.rows[k], nodeRow{fn: idx, row: t.numIn, sign: 1, offset: b.Lower})
			t.numIn++
		}
		if !math.IsInf(b.Upper, 1) {
			t.rows[k] = append(t.rows[k], nodeRow{fn: idx, row: t.numIn, sign: -1, offset: b.Upper})
			t.numIn++
		}
	}

	for j, x0 := range t.prob.Initial {
		add(0, func(pt dynamo.Point) float64 { return pt.X[j] }, Bound{Lower: x0, Upper: x0})
	}
	for k := 0; k <= n; k++ {
		for _, c := range t.prob.Constraints {
			if c.Stage == Path || (c.Stage == Start && k == 0) || (c.Stage == End && k == n) {
				add(k, c.Fn, c.Bound)
			}
		}
	}
	if t.prob.Mayer != nil {
		t.mayer = len(t.fns[n])
		t.fns[n] = append(t.fns[n], t.prob.Mayer)
	}
}

func (t *transcription) endTime(w []float64) float64 {
	if t.l.free {
		return w[t.l.offT]
	}
	return t.prob.Horizon.End
}

func (t *transcription) nodeTime(k int, tf float64) float64 {
	h := t.prob.Horizon
	return h.Start + float64(k)*(tf-h.Start)/float64(h.Intervals)
}

// shoot integrates interval i from its local variables and returns the end
// state, with the accumulated running cost appended when present.
func (t *transcription) shoot(i int, v []float64) ([]float64, dynamo.State, error) {
	s, q, p, tf := t.l.split(v, t.prob.Horizon.End)
	t0, t1 := t.nodeTime(i, tf), t.nodeTime(i+1, tf)
	if !(t1 > t0) {
		return nil, nil, fmt.Errorf("interval %d: empty time span [%g, %g]", i, t0, t1)
	}

	x := make(dynamo.State, len(s), len(s)+1)
	copy(x, s)
	if t.quad {
		x = append(x, 0)
	}
	pt := dynamo.Point{T: t0, X: x, Z: t.zShoot[i].Clone(), U: q, P: p}

	next, _, err := integrators.Integrate(t.integs[i], t.sys, pt, t1, t.steps)
	t.integrations.Add(1)
	if err != nil {
		return nil, nil, fmt.Errorf("interval %d: %w", i, err)
	}
	return next.X, next.Z, nil
}

// nodePoint builds the trajectory point at node k with consistent
// algebraic states.
func (t *transcription) nodePoint(k int, v []float64, zGuess dynamo.State) (dynamo.Point, error) {
	s, q, p, tf := t.l.split(v, t.prob.Horizon.End)
	pt := dynamo.Point{T: t.nodeTime(k, tf), X: s, Z: zGuess.Clone(), U: q, P: p}
	z, err := algebra.Consistent(t.prob.Model, pt, t.newton)
	if err != nil {
		return pt, fmt.Errorf("node %d: %w", k, err)
	}
	pt.Z = z
	return pt, nil
}

func (t *transcription) node(k int, v []float64) ([]float64, dynamo.State, error) {
	pt, err := t.nodePoint(k, v, t.zNode[k])
	if err != nil {
		return nil, nil, err
	}
	vals := make([]float64, len(t.fns[k]))
	for j, fn := range t.fns[k] {
		vals[j] = fn(pt)
	}
	if !dynamo.State(vals).IsValid() {
		return nil, nil, fmt.Errorf("node %d: %w", k, dynamo.ErrInvalidState)
	}
	return vals, pt.Z, nil
}

func (t *transcription) evaluate(w []float64) *evaluation {
	if t.evalCache != nil && floats.Equal(t.evalCache.w, w) {
		return t.evalCache
	}
	n := t.l.n
	ev := &evaluation{
		w:      append([]float64(nil), w...),
		ends:   make([][]float64, n),
		nodes:  make([][]float64, n+1),
		zNodes: make([]dynamo.State, n+1),
	}
	ev.err = dynamo.ForEach(t.ctx, 2*n+1, t.opts.Workers, func(_ context.Context, task int) error {
		if task < n {
			out, _, err := t.shoot(task, t.l.gather(w, t.l.localIndex(task)))
			ev.ends[task] = out
			return err
		}
		k := task - n
		vals, z, err := t.node(k, t.l.gather(w, t.l.localIndex(k)))
		ev.nodes[k], ev.zNodes[k] = vals, z
		return err
	})
	if ev.err == nil {
		for k, z := range ev.zNodes {
			t.zNode[k] = z.Clone()
			if k < n {
				t.zShoot[k] = z.Clone()
			}
		}
	}
	t.evalCache = ev
	return ev
}

func (t *transcription) differentiate(w []float64) *derivative {
	if t.derCache != nil && floats.Equal(t.derCache.w, w) {
		return t.derCache
	}
	n := t.l.n
	d := &derivative{
		w:     append([]float64(nil), w...),
		ends:  make([]*mat.Dense, n),
		nodes: make([]*mat.Dense, n+1),
	}
	settings := &fd.JacobianSettings{Formula: fd.Central, Step: t.opts.FDStep}
	rowsEnd := t.l.nx
	if t.quad {
		rowsEnd++
	}

	d.err = dynamo.ForEach(t.ctx, 2*n+1, t.opts.Workers, func(ctx context.Context, task int) error {
		k := task
		if task >= n {
			k = task - n
		}
		v := t.l.gather(w, t.l.localIndex(k))
		var failed error
		if task < n {
			jac := mat.NewDense(rowsEnd, len(v), nil)
			fd.Jacobian(jac, func(y, x []float64) {
				out, _, err := t.shoot(k, x)
				if err != nil {
					failed = err
					return
				}
				copy(y, out)
			}, v, settings)
			d.ends[k] = jac
			return failed
		}
		if len(t.fns[k]) == 0 {
			return nil
		}
		jac := mat.NewDense(len(t.fns[k]), len(v), nil)
		fd.Jacobian(jac, func(y, x []float64) {
			vals, _, err := t.node(k, x)
			if err != nil {
				failed = err
				return
			}
			copy(y, vals)
		}, v, settings)
		d.nodes[k] = jac
		return failed
	})
	t.derCache = d
	return d
}

func (t *transcription) objective(w []float64) (float64, error) {
	ev := t.evaluate(w)
	if ev.err != nil {
		return 0, ev.err
	}
	f := 0.0
	if t.mayer >= 0 {
		f += ev.nodes[t.l.n][t.mayer]
	}
	if t.quad {
		for _, out := range ev.ends {
			f += out[t.l.nx]
		}
	}
	return f, nil
}

func (t *transcription) gradient(grad, w []float64) error {
	d := t.differentiate(w)
	if d.err != nil {
		return d.err
	}
	for i := range grad {
		grad[i] = 0
	}
	n := t.l.n
	if t.mayer >= 0 {
		idx := t.l.localIndex(n)
		for j, g := range idx {
			grad[g] += d.nodes[n].At(t.mayer, j)
		}
	}
	if t.quad {
		for i := 0; i < n; i++ {
			for j, g := range t.l.localIndex(i) {
				grad[g] += d.ends[i].At(t.l.nx, j)
			}
		}
	}
	return nil
}

func (t *transcription) constraints(eq, ineq, w []float64) error {
	ev := t.evaluate(w)
	if ev.err != nil {
		return ev.err
	}
	nx := t.l.nx
	for i, out := range ev.ends {
		defect := dynamo.State(out[:nx]).Sub(t.l.state(w, i+1))
		copy(eq[i*nx:(i+1)*nx], defect)
	}
	for k, rows := range t.rows {
		for _, r := range rows {
			val := r.sign * (ev.nodes[k][r.fn] - r.offset)
			if r.eq {
				eq[r.row] = val
			} else {
				ineq[r.row] = val
			}
		}
	}
	return nil
}

func (t *transcription) jacobian(jeq, jineq *mat.Dense, w []float64) error {
	d := t.differentiate(w)
	if d.err != nil {
		return d.err
	}
	if jeq != nil {
		jeq.Zero()
	}
	if jineq != nil {
		jineq.Zero()
	}

	nx := t.l.nx
	for i := 0; i < t.l.n; i++ {
		idx := t.l.localIndex(i)
		for j := 0; j < nx; j++ {
			r := i*nx + j
			for c, g := range idx {
				jeq.Set(r, g, jeq.At(r, g)+d.ends[i].At(j, c))
			}
			g := t.l.offS + (i+1)*nx + j
			jeq.Set(r, g, jeq.At(r, g)-1)
		}
	}

	for k, rows := range t.rows {
		if len(rows) == 0 {
			continue
		}
		idx := t.l.localIndex(k)
		for _, r := range rows {
			dst := jineq
			if r.eq {
				dst = jeq
			}
			for c, g := range idx {
				dst.Set(r.row, g, dst.At(r.row, g)+r.sign*d.nodes[k].At(r.fn, c))
			}
		}
	}
	return nil
}

func (t *transcription) bounds() ([]float64, []float64) {
	lower := make([]float64, t.l.dim)
	upper := make([]float64, t.l.dim)
	for i := range lower {
		lower[i], upper[i] = math.Inf(-1), math.Inf(1)
	}
	set := func(g int, b Bound) { lower[g], upper[g] = b.Lower, b.Upper }

	for k := 0; k <= t.l.n; k++ {
		for j := 0; j < t.l.nx; j++ {
			set(t.l.offS+k*t.l.nx+j, boundAt(t.prob.StateBounds, j))
		}
	}
	for i := 0; i < t.l.n; i++ {
		for j := 0; j < t.l.nu; j++ {
			set(t.l.offQ+i*t.l.nu+j, boundAt(t.prob.ControlBounds, j))
		}
	}
	for j := 0; j < t.l.np; j++ {
		set(t.l.offP+j, boundAt(t.prob.ParameterBounds, j))
	}
	if t.l.free {
		set(t.l.offT, t.prob.Horizon.EndBound)
	}
	return lower, upper
}

func (t *transcription) nlpProblem() nlp.Problem {
	lower, upper := t.bounds()
	return nlp.Problem{
		Dim:         t.l.dim,
		NumEq:       t.numEq,
		NumIneq:     t.numIn,
		Objective:   t.objective,
		Gradient:    t.gradient,
		Constraints: t.constraints,
		Jacobian:    t.jacobian,
		Lower:       lower,
		Upper:       upper,
	}
}

// initialGuess fills the controls, parameters and end time from the guess
// and the nodes by forward simulation. Nodes past a failed interval take
// the constant state guess.
func (t *transcription) initialGuess() []float64 {
	p, l := t.prob, t.l
	w := make([]float64, l.dim)
	lower, upper := t.bounds()
	clamp := func(g int, v float64) float64 {
		return math.Max(lower[g], math.Min(upper[g], v))
	}

	if l.free {
		tf := p.Guess.EndTime
		if tf <= p.Horizon.Start {
			tf = p.Horizon.End
		}
		w[l.offT] = clamp(l.offT, tf)
	}
	for j := 0; j < l.np; j++ {
		v := 0.0
		if p.Guess.Parameters != nil {
			v = p.Guess.Parameters[j]
		}
		w[l.offP+j] = clamp(l.offP+j, v)
	}
	for i := 0; i < l.n; i++ {
		for j := 0; j < l.nu; j++ {
			v := 0.0
			switch {
			case p.Guess.Controls != nil:
				v = p.Guess.Controls[i][j]
			case p.Guess.Control != nil:
				v = p.Guess.Control[j]
			}
			g := l.offQ + i*l.nu + j
			w[g] = clamp(g, v)
		}
	}

	constant := make([]float64, l.nx)
	copy(constant, p.Guess.State)
	s0 := constant
	if p.Initial != nil {
		s0 = p.Initial
	}
	copy(l.state(w, 0), s0)

	for i := 0; i < l.n; i++ {
		out, zEnd, err := t.shoot(i, l.gather(w, l.localIndex(i)))
		if err != nil || !dynamo.State(out[:l.nx]).IsValid() {
			for k := i + 1; k <= l.n; k++ {
				copy(l.state(w, k), constant)
			}
			break
		}
		copy(l.state(w, i+1), out[:l.nx])
		if i+1 < l.n && len(zEnd) == l.nz {
			t.zShoot[i+1] = zEnd.Clone()
		}
		t.zNode[i+1] = zEnd.Clone()
	}
	return w
}
