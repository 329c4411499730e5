package config

import "sort"

// Presets holds partial configurations per problem, merged over the
// defaults by GetPreset.
var Presets = map[string]map[string]*Config{
	"dae_tutorial": {
		"coarse": {Intervals: 10, StepsPerInterval: 5},
		"fine":   {Intervals: 40, StepsPerInterval: 20},
		"stiff":  {Integrator: "implicit_euler", StepsPerInterval: 40},
	},
	"rocket": {
		"short": {Guess: GuessConfig{EndTime: 7, Control: []float64{1}}},
		"long":  {Guess: GuessConfig{EndTime: 14, Control: []float64{0.3}}},
		"fine":  {Intervals: 40, StepsPerInterval: 10},
	},
	"van_der_pol": {
		"coarse": {Intervals: 10},
		"tight":  {Solver: SolverConfig{FeasibilityTol: 1e-8, StationarityTol: 1e-7, MaxOuter: 100}},
	},
	"pendulum_dae": {
		"fine":     {Intervals: 40, StepsPerInterval: 20},
		"adaptive": {Integrator: "rk45"},
	},
	"double_integrator": {
		"coarse": {Intervals: 5, StepsPerInterval: 4},
		"euler":  {Integrator: "euler", StepsPerInterval: 50},
	},
}

// GetPreset returns the defaults merged with the named preset, or nil when
// the preset does not exist.
func GetPreset(problem, preset string) *Config {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	p, ok := problemPresets[preset]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Merge(p)
	cfg.Problem = problem
	return cfg
}

func ListPresets(problem string) []string {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(problemPresets))
	for name := range problemPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
