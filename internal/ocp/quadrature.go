package ocp

import "github.com/khanhln2907/acado/internal/dynamo"

// quadrature appends the running cost as one more differential state so
// that the Lagrange term is integrated with the dynamics.
type quadrature struct {
	sys      dynamo.DAE
	lagrange PointFunc
	nx       int
}

func withQuadrature(sys dynamo.DAE, lagrange PointFunc) *quadrature {
	return &quadrature{sys: sys, lagrange: lagrange, nx: sys.Dims().Differential}
}

func (q *quadrature) Dims() dynamo.Dims {
	d := q.sys.Dims()
	d.Differential++
	return d
}

func (q *quadrature) inner(pt dynamo.Point) dynamo.Point {
	pt.X = pt.X[:q.nx]
	return pt
}

func (q *quadrature) Derive(pt dynamo.Point) dynamo.State {
	in := q.inner(pt)
	f := q.sys.Derive(in)
	out := make(dynamo.State, q.nx+1)
	copy(out, f)
	out[q.nx] = q.lagrange(in)
	return out
}

func (q *quadrature) Residual(pt dynamo.Point) dynamo.State {
	return q.sys.Residual(q.inner(pt))
}
