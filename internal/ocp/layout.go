package ocp

import "github.com/khanhln2907/acado/internal/dynamo"

// layout maps the multiple-shooting variables onto one NLP vector:
//
//	[s_0 ... s_N | q_0 ... q_{N-1} | p | t_f]
//
// t_f is present only for a free end time.
type layout struct {
	nx, nz, nu, np int
	n              int
	free           bool

	offS, offQ, offP, offT int
	dim                    int
}

func newLayout(d dynamo.Dims, h Horizon) layout {
	l := layout{
		nx:   d.Differential,
		nz:   d.Algebraic,
		nu:   d.Control,
		np:   d.Parameter,
		n:    h.Intervals,
		free: h.FreeEnd,
	}
	l.offS = 0
	l.offQ = l.offS + (l.n+1)*l.nx
	l.offP = l.offQ + l.n*l.nu
	l.offT = l.offP + l.np
	l.dim = l.offT
	if l.free {
		l.dim++
	}
	return l
}

func (l layout) state(w []float64, k int) []float64 {
	return w[l.offS+k*l.nx : l.offS+(k+1)*l.nx]
}

// control returns q_i; the last node reuses the last interval's control.
func (l layout) control(w []float64, i int) []float64 {
	if i >= l.n {
		i = l.n - 1
	}
	return w[l.offQ+i*l.nu : l.offQ+(i+1)*l.nu]
}

func (l layout) params(w []float64) []float64 {
	return w[l.offP : l.offP+l.np]
}

func (l layout) localDim() int {
	d := l.nx + l.nu + l.np
	if l.free {
		d++
	}
	return d
}

// localIndex lists the global indices of the variables node or interval k
// depends on, in local order.
func (l layout) localIndex(k int) []int {
	idx := make([]int, 0, l.localDim())
	for j := 0; j < l.nx; j++ {
		idx = append(idx, l.offS+k*l.nx+j)
	}
	q := k
	if q >= l.n {
		q = l.n - 1
	}
	for j := 0; j < l.nu; j++ {
		idx = append(idx, l.offQ+q*l.nu+j)
	}
	for j := 0; j < l.np; j++ {
		idx = append(idx, l.offP+j)
	}
	if l.free {
		idx = append(idx, l.offT)
	}
	return idx
}

func (l layout) gather(w []float64, idx []int) []float64 {
	v := make([]float64, len(idx))
	for i, g := range idx {
		v[i] = w[g]
	}
	return v
}

// split unpacks a local vector. fixedEnd is returned when the end time is
// not a variable.
func (l layout) split(v []float64, fixedEnd float64) (s, q, p []float64, tf float64) {
	s = v[:l.nx]
	q = v[l.nx : l.nx+l.nu]
	p = v[l.nx+l.nu : l.nx+l.nu+l.np]
	tf = fixedEnd
	if l.free {
		tf = v[l.nx+l.nu+l.np]
	}
	return s, q, p, tf
}
