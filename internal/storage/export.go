package storage

import (
	"encoding/json"
	"io"
	"math"

	"github.com/khanhln2907/acado/internal/ocp"
	"github.com/khanhln2907/acado/internal/sim"
)

type Export struct {
	Metadata   *RunMetadata `json:"metadata"`
	Nodes      *Table       `json:"nodes"`
	Trajectory *Table       `json:"trajectory,omitempty"`
}

// Export collects everything stored for a run.
func (s *Store) Export(runID string) (*Export, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.LoadNodes(runID)
	if err != nil {
		return nil, err
	}
	out := &Export{Metadata: meta, Nodes: nodes}
	if meta.HasTrajectory {
		traj, err := s.LoadTrajectory(runID)
		if err != nil {
			return nil, err
		}
		out.Trajectory = traj
	}
	return out, nil
}

// NewExport builds the export of a solution that has not been saved.
func NewExport(sol *ocp.Solution, info RunInfo, traj *sim.Result) *Export {
	meta := newMetadata(sol, info, traj)
	nodes := NodeTable(sol)
	out := &Export{Metadata: &meta, Nodes: &nodes}
	if traj != nil {
		t := TrajectoryTable(traj, meta.Names)
		out.Trajectory = &t
	}
	return out
}

func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// MarshalJSON writes missing cells as null.
func (t Table) MarshalJSON() ([]byte, error) {
	rows := make([][]*float64, len(t.Rows))
	for i, row := range t.Rows {
		rows[i] = make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) && !math.IsInf(row[j], 0) {
				rows[i][j] = &row[j]
			}
		}
	}
	return json.Marshal(struct {
		Header []string     `json:"header"`
		Rows   [][]*float64 `json:"rows"`
	}{t.Header, rows})
}

func (t *Table) UnmarshalJSON(data []byte) error {
	var raw struct {
		Header []string     `json:"header"`
		Rows   [][]*float64 `json:"rows"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Header = raw.Header
	t.Rows = make([][]float64, len(raw.Rows))
	for i, row := range raw.Rows {
		t.Rows[i] = make([]float64, len(row))
		for j, v := range row {
			if v == nil {
				t.Rows[i][j] = math.NaN()
			} else {
				t.Rows[i][j] = *v
			}
		}
	}
	return nil
}

// Column returns the values under name, or nil when there is no such column.
func (t *Table) Column(name string) []float64 {
	for j, h := range t.Header {
		if h != name {
			continue
		}
		out := make([]float64, len(t.Rows))
		for i, row := range t.Rows {
			out[i] = math.NaN()
			if j < len(row) {
				out[i] = row[j]
			}
		}
		return out
	}
	return nil
}
