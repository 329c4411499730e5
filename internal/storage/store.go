package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/khanhln2907/acado/internal/nlp"
	"github.com/khanhln2907/acado/internal/ocp"
	"github.com/khanhln2907/acado/internal/sim"
)

const (
	metadataFile   = "metadata.json"
	nodesFile      = "nodes.csv"
	trajectoryFile = "trajectory.csv"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrAmbiguousRun = errors.New("ambiguous run id")
	ErrNoTrajectory = errors.New("run has no trajectory")
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunInfo describes how a solution was obtained.
type RunInfo struct {
	Integrator       string `json:"integrator"`
	StepsPerInterval int    `json:"steps_per_interval"`
	Source           string `json:"source,omitempty"`
}

type RunMetadata struct {
	ID        string    `json:"id"`
	Problem   string    `json:"problem"`
	Timestamp time.Time `json:"timestamp"`
	RunInfo

	Status       string          `json:"status"`
	Objective    float64         `json:"objective"`
	Violation    float64         `json:"violation"`
	EndTime      float64         `json:"end_time"`
	Intervals    int             `json:"intervals"`
	Parameters   []float64       `json:"parameters,omitempty"`
	Evaluations  int             `json:"evaluations"`
	Integrations int             `json:"integrations"`
	Elapsed      float64         `json:"elapsed_seconds"`
	Iterations   []nlp.Iteration `json:"iterations,omitempty"`
	Names        ocp.Names       `json:"names"`

	HasTrajectory bool               `json:"has_trajectory"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
}

// Table is a header plus numeric rows. Missing cells are NaN.
type Table struct {
	Header []string    `json:"header"`
	Rows   [][]float64 `json:"rows"`
}

// Save writes a run directory named <problem>_<uuid> holding the metadata,
// the node values and, when traj is non-nil, the re-simulated trajectory.
func (s *Store) Save(sol *ocp.Solution, info RunInfo, traj *sim.Result) (string, error) {
	if sol == nil {
		return "", errors.New("save: nil solution")
	}
	runID := fmt.Sprintf("%s_%s", sol.Problem, uuid.NewString())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := newMetadata(sol, info, traj)
	meta.ID = runID

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeTable(filepath.Join(runDir, nodesFile), NodeTable(sol)); err != nil {
		return "", err
	}
	if traj != nil {
		if err := writeTable(filepath.Join(runDir, trajectoryFile), TrajectoryTable(traj, meta.Names)); err != nil {
			return "", err
		}
	}
	return runID, nil
}

func newMetadata(sol *ocp.Solution, info RunInfo, traj *sim.Result) RunMetadata {
	meta := RunMetadata{
		Problem:       sol.Problem,
		Timestamp:     time.Now(),
		RunInfo:       info,
		Status:        sol.Status.String(),
		Objective:     finiteOr(sol.Objective),
		Violation:     finiteOr(sol.Violation),
		EndTime:       sol.EndTime,
		Intervals:     len(sol.Controls),
		Parameters:    sol.Parameters,
		Evaluations:   sol.Evaluations,
		Integrations:  sol.Integrations,
		Elapsed:       sol.Elapsed.Seconds(),
		Iterations:    finiteIterations(sol.Iterations),
		Names:         sol.Names(),
		HasTrajectory: traj != nil,
	}
	if traj != nil {
		meta.Metrics = make(map[string]float64, len(traj.Metrics))
		for k, v := range traj.Metrics {
			meta.Metrics[k] = finiteOr(v)
		}
	}
	return meta
}

// List returns the readable runs, newest first. Directories without valid
// metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := s.readMetadata(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

// Resolve expands a unique prefix of a run id.
func (s *Store) Resolve(prefix string) (string, error) {
	if prefix == "" {
		return "", ErrRunNotFound
	}
	if _, err := os.Stat(filepath.Join(s.baseDir, prefix, metadataFile)); err == nil {
		return prefix, nil
	}
	runs, err := s.List()
	if err != nil {
		return "", err
	}
	var match []string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, prefix) {
			match = append(match, r.ID)
		}
	}
	switch len(match) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, prefix)
	case 1:
		return match[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d runs", ErrAmbiguousRun, prefix, len(match))
	}
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	meta, err := s.readMetadata(runID)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return meta, err
}

func (s *Store) LoadNodes(runID string) (*Table, error) {
	return readTable(filepath.Join(s.baseDir, runID, nodesFile))
}

func (s *Store) LoadTrajectory(runID string) (*Table, error) {
	t, err := readTable(filepath.Join(s.baseDir, runID, trajectoryFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoTrajectory, runID)
	}
	return t, err
}

// Path returns the file of a run by its base name.
func (s *Store) Path(runID, name string) string {
	return filepath.Join(s.baseDir, runID, name)
}

func (s *Store) readMetadata(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

// NodeTable lays out the shooting nodes as rows of node, time, states,
// algebraic states and controls. The last node has no control.
func NodeTable(sol *ocp.Solution) Table {
	names := sol.Names()
	header := append([]string{"node", "time"}, names.States...)
	header = append(header, names.Algebraic...)
	header = append(header, names.Controls...)

	rows := make([][]float64, len(sol.Times))
	for k := range sol.Times {
		row := []float64{float64(k), sol.Times[k]}
		row = append(row, sol.States[k]...)
		row = append(row, padded(sol.Algebraic[k], len(names.Algebraic))...)
		if k < len(sol.Controls) {
			row = append(row, sol.Controls[k]...)
		} else {
			row = append(row, padded(nil, len(names.Controls))...)
		}
		rows[k] = row
	}
	return Table{Header: header, Rows: rows}
}

// TrajectoryTable lays out a simulation result as rows of time, states,
// algebraic states and the control applied from that sample on.
func TrajectoryTable(res *sim.Result, names ocp.Names) Table {
	header := append([]string{"time"}, names.States...)
	header = append(header, names.Algebraic...)
	header = append(header, names.Controls...)

	rows := make([][]float64, len(res.Times))
	for i := range res.Times {
		row := []float64{res.Times[i]}
		row = append(row, padded(res.States[i], len(names.States))...)
		row = append(row, padded(at(res.Algebraic, i), len(names.Algebraic))...)
		u := at(res.Controls, i)
		if u == nil && len(res.Controls) > 0 {
			u = res.Controls[len(res.Controls)-1]
		}
		row = append(row, padded(u, len(names.Controls))...)
		rows[i] = row
	}
	return Table{Header: header, Rows: rows}
}

func at[S ~[]float64](v []S, i int) []float64 {
	if i < len(v) {
		return []float64(v[i])
	}
	return nil
}

func padded(v []float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i < len(v) {
			out[i] = v[i]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// finiteIterations replaces non-finite values, which JSON cannot carry.
func finiteIterations(its []nlp.Iteration) []nlp.Iteration {
	out := make([]nlp.Iteration, len(its))
	for i, it := range its {
		it.Objective = finiteOr(it.Objective)
		it.Violation = finiteOr(it.Violation)
		it.Stationarity = finiteOr(it.Stationarity)
		out[i] = it
	}
	return out
}

func finiteOr(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.MaxFloat64
	}
	return v
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return f.Close()
}

func writeTable(path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := WriteCSV(f, t); err != nil {
		return err
	}
	return f.Close()
}

// WriteCSV writes t with a header line. NaN cells are left empty.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		rec := make([]string, len(row))
		for i, v := range row {
			if !math.IsNaN(v) {
				rec[i] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readTable(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}

	t := &Table{Header: records[0], Rows: make([][]float64, 0, len(records)-1)}
	for i, record := range records[1:] {
		row := make([]float64, len(t.Header))
		for j := range row {
			row[j] = math.NaN()
			if j >= len(record) || record[j] == "" {
				continue
			}
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d column %s: %w", path, i+2, t.Header[j], err)
			}
			row[j] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
