// Package models provides the built-in optimal control problems:
//
//   - [TutorialProblem]: nonlinear index-1 DAE with a Mayer cost on a running-cost state
//   - [RocketProblem]: minimum-time rocket with a free end time
//   - [VanDerPolProblem]: steering the Van der Pol oscillator to the origin
//   - [PendulumProblem]: Cartesian pendulum with the rod tension as algebraic state
//   - [DoubleIntegratorProblem]: minimum-energy transfer with a known optimum
package models
