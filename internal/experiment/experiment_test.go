package experiment

import (
	"context"
	"testing"

	"github.com/khanhln2907/acado/internal/config"
	"github.com/khanhln2907/acado/internal/ocp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lists(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{"dae_tutorial", "double_integrator", "pendulum_dae", "rocket", "van_der_pol"}, r.ListProblems())
	assert.Equal(t, []string{"euler", "implicit_euler", "rk4", "rk45"}, r.ListIntegrators())
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.GetProblem("brachistochrone")
	assert.ErrorContains(t, err, "unknown problem")
	_, err = r.GetIntegrator("leapfrog")
	assert.ErrorContains(t, err, "unknown integrator")
	_, err = r.Resolve(context.Background(), Config{})
	assert.Error(t, err)
}

func TestRegistry_FreshProblems(t *testing.T) {
	r := NewRegistry()
	a, err := r.GetProblem("rocket")
	require.NoError(t, err)
	a.Horizon.Intervals = 99

	b, err := r.GetProblem("rocket")
	require.NoError(t, err)
	assert.NotEqual(t, 99, b.Horizon.Intervals)
}

func TestRegistry_PresetsResolve(t *testing.T) {
	r := NewRegistry()
	for problem := range config.Presets {
		_, err := r.GetProblem(problem)
		require.NoError(t, err, problem)
		for _, name := range config.ListPresets(problem) {
			cfg := config.GetPreset(problem, name)
			_, err := r.IntegratorFactory(cfg.Integrator)
			assert.NoError(t, err, "%s/%s", problem, name)
		}
	}
}

func TestWithGuess(t *testing.T) {
	base := Config{Problem: "rocket", Control: []float64{0.2}}

	cfg, err := base.WithGuess(map[string]float64{"end_time": 8, "control0": 0.9})
	require.NoError(t, err)
	assert.Equal(t, 8.0, cfg.EndTime)
	assert.Equal(t, 0.9, cfg.ControlIndex[0])
	assert.Zero(t, base.EndTime)
	assert.Empty(t, base.ControlIndex)

	_, err = base.WithGuess(map[string]float64{"mass": 1})
	assert.ErrorContains(t, err, "unknown guess parameter")
}

func TestSetup_Overrides(t *testing.T) {
	r := NewRegistry()
	p, err := r.GetProblem("rocket")
	require.NoError(t, err)

	cfg, err := Config{Intervals: 12}.WithGuess(map[string]float64{"end_time": 8, "control": 0.7})
	require.NoError(t, err)
	require.NoError(t, New(cfg).Setup(p))

	assert.Equal(t, 12, p.Horizon.Intervals)
	assert.Equal(t, 8.0, p.Guess.EndTime)
	assert.Equal(t, []float64{0.7}, p.Guess.Control)
}

func TestSetup_Errors(t *testing.T) {
	r := NewRegistry()

	p, _ := r.GetProblem("double_integrator")
	assert.ErrorContains(t, New(Config{Integrator: "verlet"}).Setup(p), "unknown integrator")

	p, _ = r.GetProblem("double_integrator")
	assert.ErrorContains(t, New(Config{Control: []float64{1, 2}}).Setup(p), "control guess")

	p, _ = r.GetProblem("double_integrator")
	assert.ErrorContains(t, New(Config{ControlIndex: map[int]float64{3: 1}}).Setup(p), "out of range")

	assert.ErrorIs(t, New(Config{}).Setup(nil), ocp.ErrInvalidProblem)
}

func TestRun_NotSetup(t *testing.T) {
	_, err := New(Config{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrNotSetup)

	_, err = New(Config{}).Simulate(context.Background(), nil, 0.1, 0)
	assert.ErrorIs(t, err, ErrNotSetup)
}

func TestRun_DoubleIntegrator(t *testing.T) {
	cfg := FromConfig(config.DefaultConfig())
	cfg.Intervals = 5
	cfg.StepsPerInterval = 4

	exp := New(cfg)
	p, err := NewRegistry().GetProblem("double_integrator")
	require.NoError(t, err)
	require.NoError(t, exp.Setup(p))

	sol, err := exp.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sol.Feasible(1e-4), "violation %g", sol.Violation)
	// piecewise-constant optimum on 5 intervals
	assert.InDelta(t, 12.5, sol.Objective, 0.05)
	assert.Len(t, sol.Controls, 5)
}

func TestSimulate(t *testing.T) {
	exp := New(Config{})
	p, err := NewRegistry().GetProblem("dae_tutorial")
	require.NoError(t, err)
	require.NoError(t, exp.Setup(p))

	res, err := exp.Simulate(context.Background(), []float64{5}, 0.1, 0)
	require.NoError(t, err)

	assert.Len(t, res.Times, 101)
	// clamped to the control bound
	assert.Equal(t, 2.0, res.Controls[0][0])
	assert.Less(t, res.Metrics["algebraic_residual"], 1e-8)
	assert.InDelta(t, 2.0, res.Metrics["control_effort"], 1e-12)

	_, err = exp.Simulate(context.Background(), []float64{1, 2}, 0.1, 0)
	assert.Error(t, err)
}
