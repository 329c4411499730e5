// Package control provides control laws used when simulating a DAE.
//
// Control laws implement the [dynamo.Controller] interface:
//
//   - [Zero]: zero control of a fixed dimension
//   - [Constant]: a manually set control vector held for all time
//   - [PiecewiseConstant]: a control schedule on a time grid, as produced by
//     a multiple-shooting solution
//
// # Usage
//
//	sched, _ := control.NewPiecewiseConstant(sol.Times, sol.Controls)
//	s := sim.New(model, integrators.NewRK4(), sched)
package control
