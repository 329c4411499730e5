package nlp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// values is one evaluation of f, c and the user inequalities h.
type values struct {
	w   []float64
	f   float64
	c   []float64
	h   []float64
	err error
}

type derivatives struct {
	w    []float64
	grad []float64
	jc   mat.Matrix
	jh   mat.Matrix
	err  error
}

// evaluator caches the last point so that gonum's separate Func and Grad
// calls at the same x cost one evaluation.
type evaluator struct {
	p     *Problem
	step  float64
	evals int

	val  *values
	der  *derivatives
	bufC []float64
	bufH []float64
}

func newEvaluator(p *Problem, step float64) *evaluator {
	return &evaluator{p: p, step: step}
}

func (e *evaluator) values(w []float64) *values {
	if e.val != nil && floats.Equal(e.val.w, w) {
		return e.val
	}
	v := &values{
		w: append([]float64(nil), w...),
		c: make([]float64, e.p.NumEq),
		h: make([]float64, e.p.NumIneq),
	}
	v.f, v.err = e.raw(w, v.c, v.h)
	e.val = v
	return v
}

func (e *evaluator) raw(w, c, h []float64) (float64, error) {
	e.evals++
	f, err := e.p.Objective(w)
	if err != nil {
		return f, fmt.Errorf("%w: objective: %v", ErrEvaluation, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f, fmt.Errorf("%w: objective is %v", ErrEvaluation, f)
	}
	if e.p.NumEq+e.p.NumIneq == 0 {
		return f, nil
	}
	if err := e.p.Constraints(c, h, w); err != nil {
		return f, fmt.Errorf("%w: constraints: %v", ErrEvaluation, err)
	}
	if !finite(c) || !finite(h) {
		return f, fmt.Errorf("%w: constraints are not finite", ErrEvaluation)
	}
	return f, nil
}

func (e *evaluator) derivatives(w []float64) *derivatives {
	if e.der != nil && floats.Equal(e.der.w, w) {
		return e.der
	}
	d := &derivatives{w: append([]float64(nil), w...), grad: make([]float64, e.p.Dim)}
	d.err = e.gradient(d.grad, w)
	if d.err == nil {
		d.jc, d.jh, d.err = e.jacobian(w)
	}
	e.der = d
	return d
}

func (e *evaluator) gradient(grad, w []float64) error {
	if e.p.Gradient != nil {
		if err := e.p.Gradient(grad, w); err != nil {
			return fmt.Errorf("%w: gradient: %v", ErrEvaluation, err)
		}
		if !finite(grad) {
			return fmt.Errorf("%w: gradient is not finite", ErrEvaluation)
		}
		return nil
	}

	var failed error
	fd.Gradient(grad, func(x []float64) float64 {
		e.evals++
		f, err := e.p.Objective(x)
		if err != nil {
			failed = err
			return math.NaN()
		}
		return f
	}, w, &fd.Settings{Formula: fd.Central, Step: e.step})
	if failed != nil {
		return fmt.Errorf("%w: objective gradient: %v", ErrEvaluation, failed)
	}
	if !finite(grad) {
		return fmt.Errorf("%w: gradient is not finite", ErrEvaluation)
	}
	return nil
}

func (e *evaluator) jacobian(w []float64) (mat.Matrix, mat.Matrix, error) {
	n, me, mi := e.p.Dim, e.p.NumEq, e.p.NumIneq
	if me+mi == 0 {
		return nil, nil, nil
	}

	if e.p.Jacobian != nil {
		var jc, jh *mat.Dense
		if me > 0 {
			jc = mat.NewDense(me, n, nil)
		}
		if mi > 0 {
			jh = mat.NewDense(mi, n, nil)
		}
		if err := e.p.Jacobian(jc, jh, w); err != nil {
			return nil, nil, fmt.Errorf("%w: jacobian: %v", ErrEvaluation, err)
		}
		return asMatrix(jc), asMatrix(jh), nil
	}

	if len(e.bufC) != me || len(e.bufH) != mi {
		e.bufC = make([]float64, me)
		e.bufH = make([]float64, mi)
	}
	full := mat.NewDense(me+mi, n, nil)
	var failed error
	fd.Jacobian(full, func(y, x []float64) {
		e.evals++
		if err := e.p.Constraints(e.bufC, e.bufH, x); err != nil {
			failed = err
			for i := range y {
				y[i] = math.NaN()
			}
			return
		}
		copy(y[:me], e.bufC)
		copy(y[me:], e.bufH)
	}, w, &fd.JacobianSettings{Formula: fd.Central, Step: e.step})
	if failed != nil {
		return nil, nil, fmt.Errorf("%w: constraint jacobian: %v", ErrEvaluation, failed)
	}

	var jc, jh mat.Matrix
	if me > 0 {
		jc = full.Slice(0, me, 0, n)
	}
	if mi > 0 {
		jh = full.Slice(me, me+mi, 0, n)
	}
	return jc, jh, nil
}

// asMatrix keeps a nil *mat.Dense from becoming a non-nil interface.
func asMatrix(m *mat.Dense) mat.Matrix {
	if m == nil {
		return nil
	}
	return m
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
