// Package report renders solver results for the terminal.
package report

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/khanhln2907/acado/internal/nlp"
	"github.com/khanhln2907/acado/internal/storage"
)

const (
	sparkWidth   = 40
	sectionWidth = 48
)

func status(s string) string {
	switch s {
	case nlp.Converged.String():
		return StatusOK.Render(s)
	case nlp.MaxIterations.String():
		return StatusWarn.Render(s)
	default:
		return StatusFail.Render(s)
	}
}

func line(label, value string) string {
	return MetricLabel.Render(fmt.Sprintf("%-13s", label)) + " " + value
}

func num(v float64) string {
	return MetricValue.Render(formatFloat(v))
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// Run renders Summary followed, when requested, by the iteration table and
// up to nodeRows rows of the node table.
func Run(meta *storage.RunMetadata, nodes *storage.Table, iterations bool, nodeRows int) string {
	parts := []string{Summary(meta, nodes)}
	if iterations && len(meta.Iterations) > 0 {
		parts = append(parts, Separator(sectionWidth), Iterations(meta.Iterations))
	}
	if nodeRows > 0 && nodes != nil {
		parts = append(parts, Separator(sectionWidth), Nodes(nodes, nodeRows))
	}
	return strings.Join(parts, "\n")
}

// Summary renders the outcome of a run. nodes, when non-nil, adds a
// sparkline per control.
func Summary(meta *storage.RunMetadata, nodes *storage.Table) string {
	lines := []string{Title.Render(meta.Problem)}
	if meta.ID != "" {
		lines = append(lines, line("run", Subtle.Render(meta.ID)))
	}
	lines = append(lines,
		line("status", status(meta.Status)),
		line("objective", num(meta.Objective)),
		line("violation", num(meta.Violation)),
		line("end time", num(meta.EndTime)),
		line("intervals", strconv.Itoa(meta.Intervals)),
	)
	for i, v := range meta.Parameters {
		name := fmt.Sprintf("p%d", i)
		if i < len(meta.Names.Parameters) {
			name = meta.Names.Parameters[i]
		}
		lines = append(lines, line(name, num(v)))
	}
	if meta.Integrator != "" {
		lines = append(lines, line("integrator", fmt.Sprintf("%s x%d", meta.Integrator, meta.StepsPerInterval)))
	}
	lines = append(lines,
		line("iterations", strconv.Itoa(len(meta.Iterations))),
		line("evaluations", strconv.Itoa(meta.Evaluations)),
		line("integrations", strconv.Itoa(meta.Integrations)),
		line("elapsed", fmt.Sprintf("%.3fs", meta.Elapsed)),
	)

	if nodes != nil {
		for _, name := range meta.Names.Controls {
			if col := nodes.Column(name); col != nil {
				lines = append(lines, line(name, Sparkline(col, sparkWidth)))
			}
		}
	}
	if len(meta.Metrics) > 0 {
		lines = append(lines, "", Metrics(meta.Metrics))
	}
	return Panel.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Metrics renders name/value pairs sorted by name.
func Metrics(m map[string]float64) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = MetricLabel.Render(fmt.Sprintf("%-20s", name)) + " " + num(m[name])
	}
	return strings.Join(lines, "\n")
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(Subtle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderCell
			}
			return Cell
		}).
		Headers(headers...)
}

func Iterations(its []nlp.Iteration) string {
	t := newTable("outer", "objective", "violation", "stationarity", "penalty", "inner")
	for _, it := range its {
		t.Row(
			strconv.Itoa(it.Outer),
			formatFloat(it.Objective),
			formatFloat(it.Violation),
			formatFloat(it.Stationarity),
			formatFloat(it.Penalty),
			strconv.Itoa(it.Inner),
		)
	}
	return t.String()
}

// Nodes renders a node or trajectory table. Tables longer than maxRows keep
// the first and last rows around an ellipsis; maxRows <= 0 renders all.
func Nodes(tbl *storage.Table, maxRows int) string {
	t := newTable(tbl.Header...)
	rows := tbl.Rows
	elide := maxRows > 0 && len(rows) > maxRows
	head, tail := len(rows), 0
	if elide {
		head = (maxRows + 1) / 2
		tail = maxRows - head
	}

	for _, row := range rows[:head] {
		t.Row(cells(row)...)
	}
	if elide {
		gap := make([]string, len(tbl.Header))
		for i := range gap {
			gap[i] = "…"
		}
		t.Row(gap...)
		for _, row := range rows[len(rows)-tail:] {
			t.Row(cells(row)...)
		}
	}
	return t.String()
}

func cells(row []float64) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = formatFloat(v)
	}
	return out
}

func Runs(runs []storage.RunMetadata) string {
	t := newTable("id", "problem", "time", "status", "objective", "violation", "integrator")
	for _, r := range runs {
		t.Row(
			r.ID,
			r.Problem,
			r.Timestamp.Format("2006-01-02 15:04:05"),
			r.Status,
			formatFloat(r.Objective),
			formatFloat(r.Violation),
			r.Integrator,
		)
	}
	return t.String()
}
