package integrators

import (
	"math"

	"github.com/khanhln2907/acado/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

type RK45 struct {
	evaluator
	safety   float64
	minScale float64
	maxScale float64
}

func NewRK45() *RK45 {
	return &RK45{
		evaluator: newEvaluator(),
		safety:    0.9,
		minScale:  0.2,
		maxScale:  10.0,
	}
}

// Step takes one fixed step of size dt; the error estimate is ignored.
func (r *RK45) Step(sys dynamo.DAE, pt dynamo.Point, dt float64) (dynamo.Point, error) {
	next, _, accepted, err := r.StepAdaptive(sys, pt, dt, math.Inf(1))
	if err == nil && !accepted {
		err = dynamo.ErrInvalidState
	}
	return next, err
}

func (r *RK45) StepAdaptive(sys dynamo.DAE, pt dynamo.Point, dt, tol float64) (dynamo.Point, float64, bool, error) {
	x := pt.X
	n := len(x)
	t := pt.T
	stage := pt

	eval := func(xs dynamo.State, ts float64) (dynamo.State, error) {
		stage.X, stage.T = xs, ts
		k, z, err := r.derive(sys, stage)
		if err != nil {
			return nil, err
		}
		stage.Z = z
		return k.Clone(), nil
	}

	k1, err := eval(x, t)
	if err != nil {
		return pt, dt, false, err
	}

	x2 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x2[i] = x[i] + dt*b21*k1[i]
	}
	k2, err := eval(x2, t+a2*dt)
	if err != nil {
		return pt, dt, false, err
	}

	x3 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x3[i] = x[i] + dt*(b31*k1[i]+b32*k2[i])
	}
	k3, err := eval(x3, t+a3*dt)
	if err != nil {
		return pt, dt, false, err
	}

	x4 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x4[i] = x[i] + dt*(b41*k1[i]+b42*k2[i]+b43*k3[i])
	}
	k4, err := eval(x4, t+a4*dt)
	if err != nil {
		return pt, dt, false, err
	}

	x5 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x5[i] = x[i] + dt*(b51*k1[i]+b52*k2[i]+b53*k3[i]+b54*k4[i])
	}
	k5, err := eval(x5, t+a5*dt)
	if err != nil {
		return pt, dt, false, err
	}

	x6 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x6[i] = x[i] + dt*(b61*k1[i]+b62*k2[i]+b63*k3[i]+b64*k4[i]+b65*k5[i])
	}
	k6, err := eval(x6, t+dt)
	if err != nil {
		return pt, dt, false, err
	}

	xNew := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		xNew[i] = x[i] + dt*(c1*k1[i]+c3*k3[i]+c4*k4[i]+c5*k5[i]+c6*k6[i])
	}
	if !xNew.IsValid() {
		return pt, dt * r.minScale, false, nil
	}

	k7, err := eval(xNew, t+dt)
	if err != nil {
		return pt, dt, false, err
	}

	errMax := 0.0
	for i := 0; i < n; i++ {
		errEst := dt * (dc1*k1[i] + dc3*k3[i] + dc4*k4[i] + dc5*k5[i] + dc6*k6[i] + dc7*k7[i])
		scale := math.Abs(x[i]) + math.Abs(dt*k1[i]) + 1e-10
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}

	errRatio := errMax / tol

	var dtNew float64
	if errRatio > 1 {
		scale := math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
		return pt, dt * scale, false, nil
	}
	if errRatio > 0 {
		scale := math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
		dtNew = dt * scale
	} else {
		dtNew = dt * r.maxScale
	}

	// stage.Z was made consistent with xNew by the FSAL evaluation.
	return dynamo.Point{T: t + dt, X: xNew, Z: stage.Z, U: pt.U, P: pt.P}, dtNew, true, nil
}
