// Package dynamo provides core primitives for differential-algebraic systems.
//
// The package defines the fundamental interfaces and types shared by the
// integrators, the simulator and the optimal control solver:
//
//   - [State]: vector representing differential or algebraic state
//   - [Point]: one evaluation point (t, x, z, u, p) of a DAE
//   - [DAE]: semi-explicit index-1 system  dx/dt = f(t, x, z, u, p),  0 = g(t, x, z, u, p)
//   - [Integrator]: numerical time stepper for a DAE
//   - [Controller]: control law used during simulation
//   - [ForEach]: bounded parallel loop used for shooting intervals
//
// # Example
//
//	sys := models.NewDAETutorial().Model
//	integ := integrators.NewRK4()
//	pt := dynamo.Point{X: dynamo.State{1, 0}, Z: dynamo.State{0}, U: dynamo.Control{0}}
//	next, err := integ.Step(sys, pt, 0.05)
//
// # Thread Safety
//
// Integrators keep scratch buffers and are NOT safe for concurrent use. Callers
// that integrate in parallel create one integrator per goroutine.
package dynamo
