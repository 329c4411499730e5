package nlp

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSolve_Unconstrained(t *testing.T) {
	p := Problem{
		Dim: 2,
		Objective: func(w []float64) (float64, error) {
			a, b := 1-w[0], w[1]-w[0]*w[0]
			return a*a + 100*b*b, nil
		},
		Gradient: func(grad, w []float64) error {
			grad[0] = -2*(1-w[0]) - 400*w[0]*(w[1]-w[0]*w[0])
			grad[1] = 200 * (w[1] - w[0]*w[0])
			return nil
		},
	}

	res, err := Solve(context.Background(), p, []float64{-1.2, 1}, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 1, res.X[0], 1e-3)
	assert.InDelta(t, 1, res.X[1], 1e-3)
	assert.Zero(t, res.Violation)
}

func TestSolve_Equality(t *testing.T) {
	objective := func(w []float64) (float64, error) {
		return (w[0]-1)*(w[0]-1) + (w[1]-2)*(w[1]-2), nil
	}
	constraints := func(eq, _, w []float64) error {
		eq[0] = w[0] + w[1] - 1
		return nil
	}

	tests := []struct {
		name     string
		jacobian func(jeq, jineq *mat.Dense, w []float64) error
	}{
		{"finite differences", nil},
		{"analytic jacobian", func(jeq, _ *mat.Dense, _ []float64) error {
			jeq.Set(0, 0, 1)
			jeq.Set(0, 1, 1)
			return nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Problem{Dim: 2, NumEq: 1, Objective: objective, Constraints: constraints, Jacobian: tt.jacobian}

			res, err := Solve(context.Background(), p, []float64{0, 0}, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, Converged, res.Status)
			assert.InDelta(t, 0, res.X[0], 1e-4)
			assert.InDelta(t, 1, res.X[1], 1e-4)
			assert.InDelta(t, 2, res.EqMultipliers[0], 1e-3)
			assert.LessOrEqual(t, res.Violation, 1e-6)
			assert.NotEmpty(t, res.Iterations)
			assert.Positive(t, res.Evaluations)
		})
	}
}

func TestSolve_ActiveInequality(t *testing.T) {
	p := Problem{
		Dim:     2,
		NumIneq: 1,
		Objective: func(w []float64) (float64, error) {
			return w[0]*w[0] + w[1]*w[1], nil
		},
		Constraints: func(_, ineq, w []float64) error {
			ineq[0] = w[0] + w[1] - 2
			return nil
		},
	}

	res, err := Solve(context.Background(), p, []float64{3, -1}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-4)
	assert.InDelta(t, 1, res.X[1], 1e-4)
	assert.InDelta(t, 2, res.IneqMultipliers[0], 1e-3)
}

func TestSolve_InactiveInequality(t *testing.T) {
	p := Problem{
		Dim:     1,
		NumIneq: 1,
		Objective: func(w []float64) (float64, error) {
			return (w[0] - 1) * (w[0] - 1), nil
		},
		Constraints: func(_, ineq, w []float64) error {
			ineq[0] = w[0] + 5
			return nil
		},
	}

	res, err := Solve(context.Background(), p, []float64{0}, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 1, res.X[0], 1e-4)
	assert.InDelta(t, 0, res.IneqMultipliers[0], 1e-9)
}

func TestSolve_Bounds(t *testing.T) {
	p := Problem{
		Dim: 2,
		Objective: func(w []float64) (float64, error) {
			return (w[0]-3)*(w[0]-3) + (w[1]+3)*(w[1]+3), nil
		},
		Lower: []float64{0, -1},
		Upper: []float64{1, math.Inf(1)},
	}

	res, err := Solve(context.Background(), p, []float64{0.5, 0}, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 1, res.X[0], 1e-5)
	assert.InDelta(t, -1, res.X[1], 1e-5)
	assert.LessOrEqual(t, res.Violation, 1e-6)
}

func TestSolve_RecoversFromFailedEvaluations(t *testing.T) {
	p := Problem{
		Dim: 1,
		Objective: func(w []float64) (float64, error) {
			if w[0] <= 0 {
				return 0, errors.New("log of non-positive value")
			}
			return w[0] - math.Log(w[0]), nil
		},
	}

	res, err := Solve(context.Background(), p, []float64{5}, DefaultOptions())
	require.NoError(t, err)
	assert.NotEqual(t, EvaluationFailed, res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-3)
}

func TestSolve_EvaluationFailedAtStart(t *testing.T) {
	p := Problem{
		Dim: 1,
		Objective: func(w []float64) (float64, error) {
			return math.NaN(), nil
		},
	}

	res, err := Solve(context.Background(), p, []float64{1}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, EvaluationFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrEvaluation)
}

func TestSolve_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Problem{
		Dim: 1,
		Objective: func(w []float64) (float64, error) {
			return w[0] * w[0], nil
		},
	}

	res, err := Solve(ctx, p, []float64{1}, DefaultOptions())
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, Canceled, res.Status)
}

func TestSolve_InvalidProblem(t *testing.T) {
	square := func(w []float64) (float64, error) { return w[0] * w[0], nil }

	tests := []struct {
		name string
		p    Problem
		w0   []float64
	}{
		{"zero dimension", Problem{Objective: square}, nil},
		{"missing objective", Problem{Dim: 1}, []float64{0}},
		{"missing constraint function", Problem{Dim: 1, NumEq: 1, Objective: square}, []float64{0}},
		{"short bounds", Problem{Dim: 1, Objective: square, Lower: []float64{}}, []float64{0}},
		{"crossed bounds", Problem{Dim: 1, Objective: square, Lower: []float64{1}, Upper: []float64{0}}, []float64{0}},
		{"wrong start length", Problem{Dim: 1, Objective: square}, []float64{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Solve(context.Background(), tt.p, tt.w0, DefaultOptions())
			assert.ErrorIs(t, err, ErrInvalidProblem)
		})
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "converged", Converged.String())
	assert.Equal(t, "max_iterations", MaxIterations.String())
	assert.Equal(t, "evaluation_failed", EvaluationFailed.String())
	assert.Equal(t, "canceled", Canceled.String())
	assert.Equal(t, "status(9)", Status(9).String())
}

func TestSolve_InequalityOnlyFiniteDifferences(t *testing.T) {
	p := Problem{
		Dim:     1,
		NumIneq: 1,
		Objective: func(w []float64) (float64, error) {
			return w[0] * w[0], nil
		},
		Constraints: func(_, ineq, w []float64) error {
			ineq[0] = w[0] - 1
			return nil
		},
	}

	res, err := Solve(context.Background(), p, []float64{3}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-4)
	assert.LessOrEqual(t, res.Violation, 1e-4)
}
