package optim

import (
	"context"
	"errors"
	"testing"

	"github.com/khanhln2907/acado/internal/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doubleIntegrator(params map[string]float64) (*experiment.Experiment, error) {
	cfg, err := experiment.Config{Intervals: 5, StepsPerInterval: 4}.WithGuess(params)
	if err != nil {
		return nil, err
	}
	p, err := experiment.NewRegistry().GetProblem("double_integrator")
	if err != nil {
		return nil, err
	}
	exp := experiment.New(cfg)
	if err := exp.Setup(p); err != nil {
		return nil, err
	}
	return exp, nil
}

func TestGridSearch(t *testing.T) {
	g := NewGridSearch([]string{"control"}, [][]float64{{-1, 0, 1}})

	res, err := g.Search(context.Background(), doubleIntegrator)
	require.NoError(t, err)

	assert.Len(t, res.Trials, 3)
	require.NotNil(t, res.Best)
	assert.InDelta(t, 12.5, res.Best.Objective, 0.05)
	assert.Contains(t, res.BestParams, "control")
	for _, tr := range res.Trials {
		assert.Len(t, tr.Params, 1)
	}
}

func TestGridSearch_Product(t *testing.T) {
	var seen []map[string]float64
	build := func(params map[string]float64) (*experiment.Experiment, error) {
		seen = append(seen, params)
		return nil, errors.New("skip")
	}

	g := NewGridSearch([]string{"end_time", "control"}, [][]float64{{1, 2}, {0, 1, 2}})
	res, err := g.Search(context.Background(), build)

	assert.ErrorIs(t, err, ErrNoFeasible)
	assert.Len(t, res.Trials, 6)
	require.Len(t, seen, 6)
	assert.Equal(t, map[string]float64{"end_time": 1, "control": 0}, seen[0])
	assert.Equal(t, map[string]float64{"end_time": 2, "control": 2}, seen[5])
}

func TestGridSearch_Invalid(t *testing.T) {
	_, err := NewGridSearch([]string{"end_time"}, nil).Search(context.Background(), doubleIntegrator)
	assert.Error(t, err)

	_, err = NewGridSearch([]string{"end_time"}, [][]float64{{}}).Search(context.Background(), doubleIntegrator)
	assert.ErrorContains(t, err, "empty range")
}

func TestGridSearch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGridSearch([]string{"control"}, [][]float64{{0}}).Search(ctx, doubleIntegrator)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLinspace(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, Linspace(0, 1, 3))
	assert.Equal(t, []float64{2}, Linspace(2, 5, 1))
}
