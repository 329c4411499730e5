package ocp_test

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/khanhln2907/acado/internal/control"
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/integrators"
	"github.com/khanhln2907/acado/internal/models"
	"github.com/khanhln2907/acado/internal/nlp"
	"github.com/khanhln2907/acado/internal/ocp"
	"github.com/khanhln2907/acado/internal/sim"
)

func position(pt dynamo.Point) float64 { return pt.X[0] }
func velocity(pt dynamo.Point) float64 { return pt.X[1] }

// x' = -k x with the decay rate k as a parameter.
type decay struct{}

func (decay) Dims() dynamo.Dims                   { return dynamo.Dims{Differential: 1, Parameter: 1} }
func (decay) Derive(pt dynamo.Point) dynamo.State { return dynamo.State{-pt.P[0] * pt.X[0]} }
func (decay) Residual(dynamo.Point) dynamo.State  { return nil }

var _ = Describe("Problem", func() {
	It("accepts the built-in problems", func() {
		Expect(models.DoubleIntegratorProblem().Validate()).To(Succeed())
		Expect(models.TutorialProblem().Validate()).To(Succeed())
	})

	DescribeTable("reports structural errors",
		func(build func() *ocp.Problem) {
			Expect(build().Validate()).To(MatchError(ocp.ErrInvalidProblem))
		},
		Entry("empty horizon", func() *ocp.Problem {
			return ocp.New("p", models.NewDoubleIntegrator(), 1, 1, 10).MinimizeMayer(position)
		}),
		Entry("no intervals", func() *ocp.Problem {
			return ocp.New("p", models.NewDoubleIntegrator(), 0, 1, 0).MinimizeMayer(position)
		}),
		Entry("no objective", func() *ocp.Problem {
			return ocp.New("p", models.NewDoubleIntegrator(), 0, 1, 10)
		}),
		Entry("no model", func() *ocp.Problem {
			return ocp.New("p", nil, 0, 1, 10).MinimizeMayer(position)
		}),
		Entry("control index out of range", func() *ocp.Problem {
			return ocp.New("p", models.NewDoubleIntegrator(), 0, 1, 10).MinimizeMayer(position).BoundControl(3, 0, 1)
		}),
		Entry("crossed state bounds", func() *ocp.Problem {
			return ocp.New("p", models.NewDoubleIntegrator(), 0, 1, 10).MinimizeMayer(position).BoundState(0, 1, 0)
		}),
		Entry("constraint unbounded on both sides", func() *ocp.Problem {
			return ocp.New("p", models.NewDoubleIntegrator(), 0, 1, 10).MinimizeMayer(position).
				AtEnd("free", position, math.Inf(-1), math.Inf(1))
		}),
		Entry("free end time before the start", func() *ocp.Problem {
			return ocp.New("p", models.NewDoubleIntegrator(), 0, 1, 10).MinimizeMayer(position).FreeEndTime(-1, 2)
		}),
		Entry("initial state of the wrong length", func() *ocp.Problem {
			return ocp.New("p", models.NewDoubleIntegrator(), 0, 1, 10).MinimizeMayer(position).FixInitialState(0)
		}),
		Entry("control guess of the wrong length", func() *ocp.Problem {
			return ocp.New("p", models.NewDoubleIntegrator(), 0, 1, 10).MinimizeMayer(position).
				WithGuess(ocp.Guess{Controls: [][]float64{{1}}})
		}),
	)

	It("generates names when none are set", func() {
		p := ocp.New("p", models.NewDoubleIntegrator(), 0, 1, 10)
		Expect(p.StateNames()).To(Equal([]string{"x0", "x1"}))
		Expect(p.ControlNames()).To(Equal([]string{"u0"}))
		Expect(p.AlgebraicNames()).To(BeEmpty())
	})
})

var _ = Describe("Solver", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("solves the minimum-energy double integrator", func() {
		sol, err := ocp.NewSolver(models.DoubleIntegratorProblem(), ocp.DefaultOptions()).Solve(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(sol.Violation).To(BeNumerically("<=", 1e-4))
		Expect(sol.Objective).To(BeNumerically(">=", 11.9))
		Expect(sol.Objective).To(BeNumerically("<=", 12.5))

		last := sol.States[len(sol.States)-1]
		Expect(last[0]).To(BeNumerically("~", 1, 1e-3))
		Expect(last[1]).To(BeNumerically("~", 0, 1e-3))

		Expect(sol.Times).To(HaveLen(21))
		Expect(sol.Controls).To(HaveLen(20))
		Expect(sol.Controls[0][0]).To(BeNumerically(">", 4))
		Expect(sol.Controls[19][0]).To(BeNumerically("<", -4))
		Expect(sol.Iterations).NotTo(BeEmpty())
		Expect(sol.Integrations).To(BeNumerically(">", 0))
	})

	It("keeps nodes consistent on the DAE tutorial and improves on the guess", func() {
		p := models.TutorialProblem()

		guess, err := sim.New(p.Model, integrators.NewRK4(), control.NewZero(1)).
			Run(ctx, dynamo.State{1, 0}, dynamo.State{0}, nil, sim.Config{Dt: 0.5, Duration: 10, StepsPerSample: 10})
		Expect(err).NotTo(HaveOccurred())
		guessCost := guess.Final().X[1]

		sol, err := ocp.NewSolver(p, ocp.DefaultOptions()).Solve(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sol.Status).NotTo(Equal(nlp.EvaluationFailed))
		Expect(sol.Objective).To(BeNumerically("<=", guessCost+1e-6))
		Expect(sol.Violation).To(BeNumerically("<=", 1e-3))

		for k, x := range sol.States {
			pt := dynamo.Point{X: x, Z: sol.Algebraic[k], U: dynamo.Control{0}}
			Expect(math.Abs(p.Model.Residual(pt)[0])).To(BeNumerically("<", 1e-6))
		}
		for _, u := range sol.Controls {
			Expect(u[0]).To(BeNumerically(">=", -2-1e-4))
			Expect(u[0]).To(BeNumerically("<=", 2+1e-4))
		}
	})

	It("finds the bang-bang minimum time with a free end time", func() {
		p := ocp.New("min_time", models.NewDoubleIntegrator(), 0, 3, 20).
			MinimizeMayer(func(pt dynamo.Point) float64 { return pt.T }).
			FixInitialState(0, 0).
			AtEnd("position", position, 1, 1).
			AtEnd("velocity", velocity, 0, 0).
			BoundControl(0, -1, 1).
			FreeEndTime(0.5, 5).
			WithGuess(ocp.Guess{EndTime: 3})

		sol, err := ocp.NewSolver(p, ocp.DefaultOptions()).Solve(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sol.Violation).To(BeNumerically("<=", 1e-4))
		Expect(sol.EndTime).To(BeNumerically("~", 2, 0.05))
		Expect(sol.Objective).To(BeNumerically("~", sol.EndTime, 1e-9))
	})

	It("keeps a path constraint at every node", func() {
		const vmax = 1.2
		p := models.DoubleIntegratorProblem().Path("speed", velocity, math.Inf(-1), vmax)
		p.Horizon.Intervals = 10

		opts := ocp.DefaultOptions()
		opts.StepsPerInterval = 4
		sol, err := ocp.NewSolver(p, opts).Solve(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sol.Status).To(BeElementOf(nlp.Converged, nlp.MaxIterations))
		Expect(sol.Violation).To(BeNumerically("<=", 1e-4))

		peak := math.Inf(-1)
		for _, x := range sol.States {
			Expect(x[1]).To(BeNumerically("<=", vmax+1e-4))
			peak = math.Max(peak, x[1])
		}
		Expect(peak).To(BeNumerically("~", vmax, 1e-2))

		last := sol.States[len(sol.States)-1]
		Expect(last[0]).To(BeNumerically("~", 1, 1e-3))
		Expect(last[1]).To(BeNumerically("~", 0, 1e-3))
		// unconstrained, 10 piecewise-constant intervals reach 12 * 100/99
		Expect(sol.Objective).To(BeNumerically(">", 12.12))
	})

	It("estimates a free parameter", func() {
		target := math.Exp(-2)
		p := ocp.New("decay", decay{}, 0, 1, 5).
			MinimizeMayer(func(pt dynamo.Point) float64 { return pt.P[0] * pt.P[0] }).
			FixInitialState(1).
			AtEnd("fit", position, target, target).
			BoundParameter(0, 0, 10).
			WithGuess(ocp.Guess{State: []float64{1}, Parameters: []float64{1}})

		sol, err := ocp.NewSolver(p, ocp.DefaultOptions()).Solve(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sol.Violation).To(BeNumerically("<=", 1e-5))
		Expect(sol.Parameters).To(HaveLen(1))
		Expect(sol.Parameters[0]).To(BeNumerically("~", 2, 1e-3))
		Expect(sol.States[len(sol.States)-1][0]).To(BeNumerically("~", target, 1e-5))
		Expect(sol.Names().Parameters).To(Equal([]string{"p0"}))
	})

	It("re-simulates the solution on a fine grid", func() {
		sol, err := ocp.NewSolver(models.DoubleIntegratorProblem(), ocp.DefaultOptions()).Solve(ctx)
		Expect(err).NotTo(HaveOccurred())

		traj, err := sol.Trajectory(ctx, 0.01)
		Expect(err).NotTo(HaveOccurred())
		Expect(traj.Errors).To(BeEmpty())
		Expect(traj.Times[len(traj.Times)-1]).To(BeNumerically("~", 1, 1e-9))

		final := traj.Final()
		Expect(final.X[0]).To(BeNumerically("~", 1, 1e-3))
		Expect(traj.Metrics).To(HaveKey("control_effort"))
		Expect(traj.Metrics).To(HaveKey("algebraic_residual"))
	})

	It("stops on a canceled context", func() {
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		sol, err := ocp.NewSolver(models.DoubleIntegratorProblem(), ocp.DefaultOptions()).Solve(canceled)
		Expect(err).To(MatchError(context.Canceled))
		Expect(sol).NotTo(BeNil())
		Expect(sol.Status).To(Equal(nlp.Canceled))
	})

	It("rejects invalid problems before solving", func() {
		p := ocp.New("broken", models.NewDoubleIntegrator(), 0, 1, 0)
		_, err := ocp.NewSolver(p, ocp.DefaultOptions()).Solve(ctx)
		Expect(err).To(MatchError(ocp.ErrInvalidProblem))
	})
})
