package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/khanhln2907/acado/internal/nlp"
	"gopkg.in/yaml.v3"
)

const (
	DefaultIntegrator       = "rk4"
	DefaultStepsPerInterval = 10
	DefaultDataDir          = ".acado"
	DefaultLogLevel         = "info"
	DefaultSimulateDt       = 0.01
)

const (
	EnvLogLevel = "ACADO_LOG_LEVEL"
	EnvWorkers  = "ACADO_WORKERS"
)

type Config struct {
	Problem          string `yaml:"problem,omitempty"`
	File             string `yaml:"file,omitempty"`
	Integrator       string `yaml:"integrator"`
	Intervals        int    `yaml:"intervals,omitempty"`
	StepsPerInterval int    `yaml:"steps_per_interval"`
	Workers          int    `yaml:"workers"`

	Solver   SolverConfig   `yaml:"solver"`
	Guess    GuessConfig    `yaml:"guess,omitempty"`
	Simulate SimulateConfig `yaml:"simulate"`
	Log      LogConfig      `yaml:"log"`
	DataDir  string         `yaml:"data_dir"`
}

type SolverConfig struct {
	MaxOuter        int     `yaml:"max_outer"`
	MaxInner        int     `yaml:"max_inner"`
	FeasibilityTol  float64 `yaml:"feasibility_tol"`
	StationarityTol float64 `yaml:"stationarity_tol"`
	InitialPenalty  float64 `yaml:"initial_penalty"`
	PenaltyGrowth   float64 `yaml:"penalty_growth"`
	FDStep          float64 `yaml:"fd_step,omitempty"`
}

// GuessConfig overrides the initial guess of a problem. Zero values keep
// the problem's own guess.
type GuessConfig struct {
	EndTime float64   `yaml:"end_time,omitempty"`
	Control []float64 `yaml:"control,omitempty"`
}

type SimulateConfig struct {
	Dt       float64   `yaml:"dt"`
	Duration float64   `yaml:"duration,omitempty"`
	Control  []float64 `yaml:"control,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file,omitempty"`
}

func DefaultConfig() *Config {
	def := nlp.DefaultOptions()
	return &Config{
		Integrator:       DefaultIntegrator,
		StepsPerInterval: DefaultStepsPerInterval,
		Solver: SolverConfig{
			MaxOuter:        def.MaxOuter,
			MaxInner:        def.MaxInner,
			FeasibilityTol:  def.FeasibilityTol,
			StationarityTol: def.StationarityTol,
			InitialPenalty:  def.InitialPenalty,
			PenaltyGrowth:   def.PenaltyGrowth,
		},
		Simulate: SimulateConfig{Dt: DefaultSimulateDt},
		Log:      LogConfig{Level: DefaultLogLevel},
		DataDir:  DefaultDataDir,
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadInto(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInto decodes the file at path over c, keeping the fields it omits.
func (c *Config) LoadInto(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	switch {
	case c.StepsPerInterval < 1:
		return fmt.Errorf("steps_per_interval must be at least 1, got %d", c.StepsPerInterval)
	case c.Intervals < 0:
		return fmt.Errorf("intervals must not be negative, got %d", c.Intervals)
	case c.Solver.MaxOuter < 1 || c.Solver.MaxInner < 1:
		return fmt.Errorf("solver iteration limits must be positive")
	case c.Solver.FeasibilityTol <= 0 || c.Solver.StationarityTol <= 0:
		return fmt.Errorf("solver tolerances must be positive")
	case c.Simulate.Dt <= 0:
		return fmt.Errorf("simulate.dt must be positive, got %g", c.Simulate.Dt)
	}
	return nil
}

// ApplyEnv overrides the log level and worker count from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	return nil
}

// NLPOptions returns the solver options, leaving the logger unset.
func (c *Config) NLPOptions() nlp.Options {
	opts := nlp.DefaultOptions()
	opts.MaxOuter = c.Solver.MaxOuter
	opts.MaxInner = c.Solver.MaxInner
	opts.FeasibilityTol = c.Solver.FeasibilityTol
	opts.StationarityTol = c.Solver.StationarityTol
	if c.Solver.InitialPenalty > 0 {
		opts.InitialPenalty = c.Solver.InitialPenalty
	}
	if c.Solver.PenaltyGrowth > 1 {
		opts.PenaltyGrowth = c.Solver.PenaltyGrowth
	}
	opts.FDStep = c.Solver.FDStep
	return opts
}

// Merge copies the non-zero fields of o into c.
func (c *Config) Merge(o *Config) {
	if o == nil {
		return
	}
	if o.Problem != "" {
		c.Problem = o.Problem
	}
	if o.File != "" {
		c.File = o.File
	}
	if o.Integrator != "" {
		c.Integrator = o.Integrator
	}
	if o.Intervals != 0 {
		c.Intervals = o.Intervals
	}
	if o.StepsPerInterval != 0 {
		c.StepsPerInterval = o.StepsPerInterval
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.Solver.MaxOuter != 0 {
		c.Solver.MaxOuter = o.Solver.MaxOuter
	}
	if o.Solver.MaxInner != 0 {
		c.Solver.MaxInner = o.Solver.MaxInner
	}
	if o.Solver.FeasibilityTol != 0 {
		c.Solver.FeasibilityTol = o.Solver.FeasibilityTol
	}
	if o.Solver.StationarityTol != 0 {
		c.Solver.StationarityTol = o.Solver.StationarityTol
	}
	if o.Solver.InitialPenalty != 0 {
		c.Solver.InitialPenalty = o.Solver.InitialPenalty
	}
	if o.Solver.PenaltyGrowth != 0 {
		c.Solver.PenaltyGrowth = o.Solver.PenaltyGrowth
	}
	if o.Solver.FDStep != 0 {
		c.Solver.FDStep = o.Solver.FDStep
	}
	if o.Guess.EndTime != 0 {
		c.Guess.EndTime = o.Guess.EndTime
	}
	if o.Guess.Control != nil {
		c.Guess.Control = append([]float64(nil), o.Guess.Control...)
	}
	if o.Simulate.Dt != 0 {
		c.Simulate.Dt = o.Simulate.Dt
	}
	if o.Simulate.Duration != 0 {
		c.Simulate.Duration = o.Simulate.Duration
	}
	if o.Simulate.Control != nil {
		c.Simulate.Control = append([]float64(nil), o.Simulate.Control...)
	}
}
