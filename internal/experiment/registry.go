package experiment

import (
	"context"
	"fmt"
	"sort"

	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/integrators"
	"github.com/khanhln2907/acado/internal/modelfile"
	"github.com/khanhln2907/acado/internal/models"
	"github.com/khanhln2907/acado/internal/ocp"
)

type Registry struct {
	problems    map[string]func() *ocp.Problem
	integrators map[string]func() dynamo.Integrator
}

func NewRegistry() *Registry {
	r := &Registry{
		problems:    make(map[string]func() *ocp.Problem),
		integrators: make(map[string]func() dynamo.Integrator),
	}

	r.problems["dae_tutorial"] = models.TutorialProblem
	r.problems["rocket"] = models.RocketProblem
	r.problems["van_der_pol"] = models.VanDerPolProblem
	r.problems["pendulum_dae"] = models.PendulumProblem
	r.problems["double_integrator"] = models.DoubleIntegratorProblem

	r.integrators["euler"] = func() dynamo.Integrator { return integrators.NewEuler() }
	r.integrators["rk4"] = func() dynamo.Integrator { return integrators.NewRK4() }
	r.integrators["rk45"] = func() dynamo.Integrator { return integrators.NewRK45() }
	r.integrators["implicit_euler"] = func() dynamo.Integrator { return integrators.NewImplicitEuler() }

	return r
}

// RegisterProblem adds or replaces a named problem factory.
func (r *Registry) RegisterProblem(name string, fn func() *ocp.Problem) {
	r.problems[name] = fn
}

// GetProblem builds a fresh instance of a named problem.
func (r *Registry) GetProblem(name string) (*ocp.Problem, error) {
	fn, ok := r.problems[name]
	if !ok {
		return nil, fmt.Errorf("unknown problem: %s (available: %v)", name, r.ListProblems())
	}
	return fn(), nil
}

func (r *Registry) GetIntegrator(name string) (dynamo.Integrator, error) {
	fn, err := r.IntegratorFactory(name)
	if err != nil {
		return nil, err
	}
	return fn(), nil
}

// IntegratorFactory returns a constructor so every shooting interval can
// own its integrator.
func (r *Registry) IntegratorFactory(name string) (func() dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s (available: %v)", name, r.ListIntegrators())
	}
	return fn, nil
}

func (r *Registry) ListProblems() []string {
	return sortedKeys(r.problems)
}

func (r *Registry) ListIntegrators() []string {
	return sortedKeys(r.integrators)
}

// Resolve loads the problem file when cfg names one and the built-in
// problem otherwise.
func (r *Registry) Resolve(ctx context.Context, cfg Config) (*ocp.Problem, error) {
	if cfg.File != "" {
		return modelfile.Load(ctx, cfg.File)
	}
	if cfg.Problem == "" {
		return nil, fmt.Errorf("no problem or problem file given")
	}
	return r.GetProblem(cfg.Problem)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
