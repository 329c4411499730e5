package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/khanhln2907/acado/internal/config"
	"github.com/khanhln2907/acado/internal/experiment"
	"github.com/khanhln2907/acado/internal/logging"
	"github.com/khanhln2907/acado/internal/modelfile"
	"github.com/khanhln2907/acado/internal/ocp"
	"github.com/khanhln2907/acado/internal/optim"
	"github.com/khanhln2907/acado/internal/report"
	"github.com/khanhln2907/acado/internal/sim"
	"github.com/khanhln2907/acado/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dataDir  string
	logLevel string
	logJSON  bool
	logFile  string

	configFile  string
	preset      string
	problemFile string
	integrator  string
	steps       int
	intervals   int
	workers     int
	maxOuter    int
	feasTol     float64
	endTime     float64
	controls    []float64

	trajDt    float64
	noSave    bool
	jsonOut   bool
	showIters bool
	nodeRows  int

	simDt       float64
	simDuration float64
	simCSV      bool

	guessEndTimes []float64
	guessControls []float64

	withTrajectory bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "acado",
		Short:         "DAE optimal control solver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultDataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")

	solveCmd := &cobra.Command{
		Use:   "solve [problem]",
		Short: "solve a built-in problem or a problem file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSolve,
	}
	addSolverFlags(solveCmd)
	solveCmd.Flags().Float64Var(&trajDt, "dt", 0.01, "re-simulation step of the optimal controls, 0 to skip")
	solveCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	solveCmd.Flags().BoolVar(&jsonOut, "json", false, "print the solution as JSON")
	solveCmd.Flags().BoolVar(&showIters, "iterations", false, "print the iteration table")
	solveCmd.Flags().IntVar(&nodeRows, "nodes", 0, "print at most this many node rows")

	simulateCmd := &cobra.Command{
		Use:   "simulate [problem]",
		Short: "simulate a problem's model under constant controls",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulate,
	}
	simulateCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	simulateCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	simulateCmd.Flags().StringVarP(&problemFile, "file", "f", "", "problem file (hcl)")
	simulateCmd.Flags().StringVar(&integrator, "integrator", config.DefaultIntegrator, "integrator")
	simulateCmd.Flags().Float64SliceVar(&controls, "control", nil, "constant control values")
	simulateCmd.Flags().Float64Var(&simDt, "dt", config.DefaultSimulateDt, "timestep")
	simulateCmd.Flags().Float64Var(&simDuration, "time", 0, "duration, 0 for the problem horizon")
	simulateCmd.Flags().BoolVar(&simCSV, "csv", false, "print the trajectory as CSV")

	problemsCmd := &cobra.Command{
		Use:   "problems",
		Short: "list built-in problems and integrators",
		RunE:  listProblems,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [problem]",
		Short: "list available presets for a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for problem: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check [file]",
		Short: "validate a problem file",
		Args:  cobra.ExactArgs(1),
		RunE:  checkFile,
	}

	multistartCmd := &cobra.Command{
		Use:   "multistart [problem]",
		Short: "solve from a grid of initial guesses and keep the best",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMultistart,
	}
	addSolverFlags(multistartCmd)
	multistartCmd.Flags().Float64SliceVar(&guessEndTimes, "end-times", nil, "end time guesses")
	multistartCmd.Flags().Float64SliceVar(&guessControls, "controls", nil, "constant control guesses")
	multistartCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the best run")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}
	showCmd.Flags().BoolVar(&showIters, "iterations", false, "print the iteration table")
	showCmd.Flags().IntVar(&nodeRows, "nodes", 0, "print at most this many node rows")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run nodes to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().BoolVar(&withTrajectory, "trajectory", false, "export the re-simulated trajectory instead of the nodes")

	rootCmd.AddCommand(solveCmd, simulateCmd, problemsCmd, presetsCmd, checkCmd, multistartCmd, listCmd, showCmd, exportJSONCmd, exportCSVCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addSolverFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().StringVarP(&problemFile, "file", "f", "", "problem file (hcl)")
	cmd.Flags().StringVar(&integrator, "integrator", config.DefaultIntegrator, "integrator")
	cmd.Flags().IntVar(&steps, "steps", config.DefaultStepsPerInterval, "integrator steps per shooting interval")
	cmd.Flags().IntVar(&intervals, "intervals", 0, "shooting intervals, 0 for the problem default")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel intervals, 0 for all CPUs")
	cmd.Flags().IntVar(&maxOuter, "max-outer", 0, "outer iteration limit")
	cmd.Flags().Float64Var(&feasTol, "tol", 0, "feasibility tolerance")
	cmd.Flags().Float64Var(&endTime, "end-time", 0, "end time guess")
	cmd.Flags().Float64SliceVar(&controls, "control", nil, "constant control guess")
}

// loadConfig layers defaults, preset, config file, environment and the
// flags the user changed, in that order.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	target(cfg, args)

	if preset != "" {
		p := config.GetPreset(cfg.Problem, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(cfg.Problem))
		}
		p.File = cfg.File
		cfg = p
	}

	if configFile != "" {
		if err := cfg.LoadInto(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		target(cfg, args)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("file") {
		cfg.File = problemFile
	}
	if changed("integrator") {
		cfg.Integrator = integrator
	}
	if changed("steps") {
		cfg.StepsPerInterval = steps
	}
	if changed("intervals") {
		cfg.Intervals = intervals
	}
	if changed("workers") {
		cfg.Workers = workers
	}
	if changed("max-outer") {
		cfg.Solver.MaxOuter = maxOuter
	}
	if changed("tol") {
		cfg.Solver.FeasibilityTol = feasTol
	}
	if changed("end-time") {
		cfg.Guess.EndTime = endTime
	}
	if changed("control") {
		cfg.Guess.Control = controls
		cfg.Simulate.Control = controls
	}
	if changed("dt") && cmd.Name() == "simulate" {
		cfg.Simulate.Dt = simDt
	}
	if changed("time") {
		cfg.Simulate.Duration = simDuration
	}
	if changed("data") {
		cfg.DataDir = dataDir
	}
	if changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if changed("log-json") {
		cfg.Log.JSON = logJSON
	}
	if changed("log-file") {
		cfg.Log.File = logFile
	}

	if cfg.Problem == "" && cfg.File == "" {
		return nil, errors.New("no problem given: pass a problem name or --file")
	}
	return cfg, cfg.Validate()
}

// target sets the problem from the first argument, a built-in name or a
// .hcl file.
func target(cfg *config.Config, args []string) {
	if len(args) == 0 {
		return
	}
	if strings.HasSuffix(args[0], ".hcl") {
		cfg.File = args[0]
	} else {
		cfg.Problem = args[0]
	}
}

func setupLogger(cfg config.LogConfig) (*zap.Logger, func() error, error) {
	return logging.Setup(logging.Config{Level: cfg.Level, JSON: cfg.JSON, File: cfg.File})
}

// prepare resolves the problem of cfg and sets up an experiment for it.
func prepare(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*experiment.Experiment, error) {
	ecfg := experiment.FromConfig(cfg)
	ecfg.Logger = logger
	registry := experiment.NewRegistry()
	problem, err := registry.Resolve(logging.WithLogger(ctx, logger), ecfg)
	if err != nil {
		return nil, err
	}
	exp := experiment.New(ecfg).WithRegistry(registry)
	if err := exp.Setup(problem); err != nil {
		return nil, err
	}
	return exp, nil
}

func runInfo(cfg *config.Config) storage.RunInfo {
	info := storage.RunInfo{Integrator: cfg.Integrator, StepsPerInterval: cfg.StepsPerInterval}
	if cfg.File != "" {
		info.Source = cfg.File
	}
	return info
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	exp, err := prepare(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sol, err := exp.Run(ctx)
	if sol == nil {
		return err
	}
	if err != nil {
		logger.Warn("solve interrupted", zap.Error(err))
	}

	var traj *sim.Result
	if trajDt > 0 && ctx.Err() == nil {
		traj, err = sol.Trajectory(ctx, trajDt)
		if err != nil {
			logger.Warn("trajectory simulation failed", zap.Error(err))
			traj = nil
		}
	}
	return emit(cfg, sol, traj, logger)
}

// emit stores the run unless disabled and prints it.
func emit(cfg *config.Config, sol *ocp.Solution, traj *sim.Result, logger *zap.Logger) error {
	info := runInfo(cfg)
	export := storage.NewExport(sol, info, traj)

	if !noSave {
		st := storage.New(cfg.DataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(sol, info, traj)
		if err != nil {
			return err
		}
		export.Metadata.ID = runID
		logger.Info("saved run", zap.String("run_id", runID), zap.String("dir", filepath.Join(cfg.DataDir, runID)))
	}

	if jsonOut {
		return storage.WriteJSON(os.Stdout, export)
	}
	fmt.Println(report.Run(export.Metadata, export.Nodes, showIters, nodeRows))
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	exp, err := prepare(ctx, cfg, logger)
	if err != nil {
		return err
	}

	res, err := exp.Simulate(ctx, cfg.Simulate.Control, cfg.Simulate.Dt, cfg.Simulate.Duration)
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		logger.Warn("simulation stopped", zap.Error(e))
	}

	p := exp.Problem()
	names := ocp.Names{
		States:    p.StateNames(),
		Algebraic: p.AlgebraicNames(),
		Controls:  p.ControlNames(),
	}
	if simCSV {
		return storage.WriteCSV(os.Stdout, storage.TrajectoryTable(res, names))
	}

	final := res.Final()
	fmt.Printf("simulated %s for %d steps\n", p.Name, res.StepsTaken)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "time\t%g\n", final.T)
	for i, name := range names.States {
		fmt.Fprintf(w, "%s\t%g\n", name, final.X[i])
	}
	for i, name := range names.Algebraic {
		if i < len(final.Z) {
			fmt.Fprintf(w, "%s\t%g\n", name, final.Z[i])
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(report.Metrics(res.Metrics))
	return nil
}

func listProblems(cmd *cobra.Command, args []string) error {
	registry := experiment.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBLEM\tSTATES\tALGEBRAIC\tCONTROLS\tINTERVALS\tHORIZON")
	for _, name := range registry.ListProblems() {
		p, err := registry.GetProblem(name)
		if err != nil {
			return err
		}
		d := p.Model.Dims()
		horizon := fmt.Sprintf("[%g, %g]", p.Horizon.Start, p.Horizon.End)
		if p.Horizon.FreeEnd {
			horizon = fmt.Sprintf("[%g, T], T in [%g, %g]", p.Horizon.Start, p.Horizon.EndBound.Lower, p.Horizon.EndBound.Upper)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", name, d.Differential, d.Algebraic, d.Control, p.Horizon.Intervals, horizon)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nintegrators: %s\n", strings.Join(registry.ListIntegrators(), ", "))
	return nil
}

func checkFile(cmd *cobra.Command, args []string) error {
	p, err := modelfile.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	d := p.Model.Dims()
	fmt.Printf("%s: problem %q is valid\n", args[0], p.Name)
	fmt.Printf("  states:      %s\n", strings.Join(p.StateNames(), ", "))
	fmt.Printf("  algebraic:   %s\n", strings.Join(p.AlgebraicNames(), ", "))
	fmt.Printf("  controls:    %s\n", strings.Join(p.ControlNames(), ", "))
	fmt.Printf("  parameters:  %s\n", strings.Join(p.ParameterNames(), ", "))
	fmt.Printf("  constraints: %d\n", len(p.Constraints))
	fmt.Printf("  dims:        %+v\n", d)
	return nil
}

func runMultistart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer cleanup()

	var params []string
	var ranges [][]float64
	if len(guessEndTimes) > 0 {
		params = append(params, experiment.GuessEndTime)
		ranges = append(ranges, guessEndTimes)
	}
	if len(guessControls) > 0 {
		params = append(params, experiment.GuessControl)
		ranges = append(ranges, guessControls)
	}
	if len(params) == 0 {
		return errors.New("multistart needs --end-times or --controls")
	}

	ctx := cmd.Context()
	base := experiment.FromConfig(cfg)
	base.Logger = logger.Named("trial")
	registry := experiment.NewRegistry()

	build := func(guess map[string]float64) (*experiment.Experiment, error) {
		ecfg, err := base.WithGuess(guess)
		if err != nil {
			return nil, err
		}
		problem, err := registry.Resolve(logging.WithLogger(ctx, logger), ecfg)
		if err != nil {
			return nil, err
		}
		exp := experiment.New(ecfg).WithRegistry(registry)
		if err := exp.Setup(problem); err != nil {
			return nil, err
		}
		return exp, nil
	}

	search := optim.NewGridSearch(params, ranges)
	search.Tol = cfg.Solver.FeasibilityTol * 100
	search.Logger = logger
	res, err := search.Search(ctx, build)
	if res != nil {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "GUESS\tSTATUS\tOBJECTIVE\tVIOLATION")
		for _, tr := range res.Trials {
			if tr.Err != nil || tr.Solution == nil {
				fmt.Fprintf(w, "%v\tfailed\t-\t%v\n", tr.Params, tr.Err)
				continue
			}
			fmt.Fprintf(w, "%v\t%s\t%g\t%g\n", tr.Params, tr.Solution.Status, tr.Solution.Objective, tr.Solution.Violation)
		}
		if ferr := w.Flush(); ferr != nil {
			return ferr
		}
		fmt.Println()
	}
	if err != nil {
		return err
	}

	logger.Info("best guess", zap.Any("params", res.BestParams))
	return emit(cfg, res.Best, nil, logger)
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	fmt.Println(report.Runs(runs))
	return nil
}

func showRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runID, err := st.Resolve(args[0])
	if err != nil {
		return err
	}
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	nodes, err := st.LoadNodes(runID)
	if err != nil {
		return err
	}

	fmt.Println(report.Run(meta, nodes, showIters, nodeRows))
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runID, err := st.Resolve(args[0])
	if err != nil {
		return err
	}
	export, err := st.Export(runID)
	if err != nil {
		return err
	}
	return storage.WriteJSON(os.Stdout, export)
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runID, err := st.Resolve(args[0])
	if err != nil {
		return err
	}

	var table *storage.Table
	if withTrajectory {
		table, err = st.LoadTrajectory(runID)
	} else {
		table, err = st.LoadNodes(runID)
	}
	if err != nil {
		return err
	}
	return storage.WriteCSV(os.Stdout, *table)
}
