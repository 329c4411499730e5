package integrators

import "github.com/khanhln2907/acado/internal/dynamo"

type RK4 struct {
	evaluator
	k1, k2, k3, k4 dynamo.State
	scratch        dynamo.State
}

func NewRK4() *RK4 {
	return &RK4{evaluator: newEvaluator()}
}

func (r *RK4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.k1 = make(dynamo.State, n)
		r.k2 = make(dynamo.State, n)
		r.k3 = make(dynamo.State, n)
		r.k4 = make(dynamo.State, n)
		r.scratch = make(dynamo.State, n)
	}
}

func (r *RK4) Step(sys dynamo.DAE, pt dynamo.Point, dt float64) (dynamo.Point, error) {
	x := pt.X
	n := len(x)
	r.ensureScratch(n)

	k1, z, err := r.derive(sys, pt)
	if err != nil {
		return pt, err
	}
	copy(r.k1, k1)

	stage := pt
	stage.X = r.scratch

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k1[i]
	}
	stage.T, stage.Z = pt.T+dt*0.5, z
	k2, z, err := r.derive(sys, stage)
	if err != nil {
		return pt, err
	}
	copy(r.k2, k2)

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k2[i]
	}
	stage.Z = z
	k3, z, err := r.derive(sys, stage)
	if err != nil {
		return pt, err
	}
	copy(r.k3, k3)

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*r.k3[i]
	}
	stage.T, stage.Z = pt.T+dt, z
	k4, z, err := r.derive(sys, stage)
	if err != nil {
		return pt, err
	}
	copy(r.k4, k4)

	result := make(dynamo.State, n)
	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		result[i] = x[i] + dt6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i])
	}

	return r.finish(sys, pt, result, z.Clone(), dt)
}
