package optim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/khanhln2907/acado/internal/experiment"
	"github.com/khanhln2907/acado/internal/ocp"
	"go.uber.org/zap"
)

var ErrNoFeasible = errors.New("no feasible solution found")

// DefaultFeasibilityTol is the violation accepted as feasible when the
// search tolerance is unset.
const DefaultFeasibilityTol = 1e-4

// GridSearch runs one experiment per point of the cartesian product of the
// parameter ranges. The parameters are guess names such as "end_time" or
// "control".
type GridSearch struct {
	paramNames []string
	ranges     [][]float64

	// Tol is the violation a solution may carry and still count as feasible.
	Tol    float64
	Logger *zap.Logger
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges, Tol: DefaultFeasibilityTol}
}

// Trial is the outcome of one grid point.
type Trial struct {
	Params   map[string]float64
	Solution *ocp.Solution
	Err      error
}

type SearchResult struct {
	Best       *ocp.Solution
	BestParams map[string]float64
	Trials     []Trial
}

// Search builds and runs an experiment per grid point and keeps the feasible
// solution with the lowest objective. Failed points are recorded in Trials
// and do not stop the search; a canceled context does.
func (g *GridSearch) Search(
	ctx context.Context,
	buildExperiment func(params map[string]float64) (*experiment.Experiment, error),
) (*SearchResult, error) {
	if len(g.paramNames) != len(g.ranges) {
		return nil, fmt.Errorf("%d parameters but %d ranges", len(g.paramNames), len(g.ranges))
	}
	for i, r := range g.ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("parameter %s has an empty range", g.paramNames[i])
		}
	}
	logger := g.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	res := &SearchResult{}
	best := math.Inf(1)
	err := g.searchRecursive(ctx, 0, make(map[string]float64), buildExperiment, func(tr Trial) {
		res.Trials = append(res.Trials, tr)
		if tr.Err != nil {
			logger.Debug("trial failed", zap.Any("params", tr.Params), zap.Error(tr.Err))
			return
		}
		sol := tr.Solution
		logger.Debug("trial",
			zap.Any("params", tr.Params),
			zap.Stringer("status", sol.Status),
			zap.Float64("objective", sol.Objective),
			zap.Float64("violation", sol.Violation),
		)
		if sol.Feasible(g.tol()) && sol.Objective < best {
			best = sol.Objective
			res.Best = sol
			res.BestParams = tr.Params
		}
	})
	if err != nil {
		return res, err
	}
	if res.Best == nil {
		return res, ErrNoFeasible
	}
	logger.Info("multistart finished",
		zap.Int("trials", len(res.Trials)),
		zap.Any("best_params", res.BestParams),
		zap.Float64("objective", best),
	)
	return res, nil
}

func (g *GridSearch) tol() float64 {
	if g.Tol > 0 {
		return g.Tol
	}
	return DefaultFeasibilityTol
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	buildExperiment func(map[string]float64) (*experiment.Experiment, error),
	record func(Trial),
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		params := make(map[string]float64, len(current))
		for k, v := range current {
			params[k] = v
		}

		exp, err := buildExperiment(params)
		if err != nil {
			record(Trial{Params: params, Err: err})
			return nil
		}
		sol, err := exp.Run(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		record(Trial{Params: params, Solution: sol, Err: err})
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		current[paramName] = val
		if err := g.searchRecursive(ctx, depth+1, current, buildExperiment, record); err != nil {
			return err
		}
	}
	delete(current, paramName)
	return nil
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}
