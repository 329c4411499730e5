package ocp

import (
	"errors"
	"fmt"
	"math"

	"github.com/khanhln2907/acado/internal/dynamo"
)

var ErrInvalidProblem = errors.New("ocp: invalid problem")

type Stage int

const (
	Start Stage = iota
	End
	Path
)

func (s Stage) String() string {
	switch s {
	case Start:
		return "start"
	case End:
		return "end"
	case Path:
		return "path"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage accepts the names returned by Stage.String.
func ParseStage(name string) (Stage, error) {
	switch name {
	case "start":
		return Start, nil
	case "end":
		return End, nil
	case "path":
		return Path, nil
	}
	return 0, fmt.Errorf("unknown constraint stage %q", name)
}

// Bound is a closed interval. Infinite ends are allowed.
type Bound struct {
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
}

func Free() Bound { return Bound{Lower: math.Inf(-1), Upper: math.Inf(1)} }

func (b Bound) Equality() bool { return b.Lower == b.Upper }

func (b Bound) Unbounded() bool { return math.IsInf(b.Lower, -1) && math.IsInf(b.Upper, 1) }

func (b Bound) Clamp(v float64) float64 { return math.Max(b.Lower, math.Min(b.Upper, v)) }

// PointFunc is a scalar function of one point of the trajectory.
type PointFunc func(pt dynamo.Point) float64

type Constraint struct {
	Name  string
	Stage Stage
	Fn    PointFunc
	Bound Bound
}

// Horizon is [Start, End] split into Intervals shooting intervals. With
// FreeEnd set, End is the initial guess of an end time in EndBound.
type Horizon struct {
	Start     float64
	End       float64
	Intervals int
	FreeEnd   bool
	EndBound  Bound
}

type Names struct {
	States     []string `json:"states,omitempty"`
	Algebraic  []string `json:"algebraic,omitempty"`
	Controls   []string `json:"controls,omitempty"`
	Parameters []string `json:"parameters,omitempty"`
}

// Guess seeds the solver. Constant values apply to every node; Controls
// per interval override Control when present.
type Guess struct {
	State      []float64
	Algebraic  []float64
	Control    []float64
	Controls   [][]float64
	Parameters []float64
	EndTime    float64
}

type Problem struct {
	Name    string
	Model   dynamo.DAE
	Horizon Horizon

	Mayer    PointFunc
	Lagrange PointFunc

	Constraints []Constraint
	// Initial fixes the differential states at the start when non-nil.
	Initial []float64

	StateBounds     []Bound
	ControlBounds   []Bound
	ParameterBounds []Bound

	Names Names
	Guess Guess

	errs []error
}

func New(name string, model dynamo.DAE, start, end float64, intervals int) *Problem {
	p := &Problem{
		Name:    name,
		Model:   model,
		Horizon: Horizon{Start: start, End: end, Intervals: intervals},
	}
	if model != nil {
		d := model.Dims()
		p.StateBounds = freeBounds(d.Differential)
		p.ControlBounds = freeBounds(d.Control)
		p.ParameterBounds = freeBounds(d.Parameter)
	}
	return p
}

func freeBounds(n int) []Bound {
	if n < 0 {
		return nil
	}
	b := make([]Bound, n)
	for i := range b {
		b[i] = Free()
	}
	return b
}

func (p *Problem) MinimizeMayer(fn PointFunc) *Problem {
	p.Mayer = fn
	return p
}

func (p *Problem) MinimizeLagrange(fn PointFunc) *Problem {
	p.Lagrange = fn
	return p
}

func (p *Problem) AtStart(name string, fn PointFunc, lower, upper float64) *Problem {
	return p.constrain(name, Start, fn, lower, upper)
}

func (p *Problem) AtEnd(name string, fn PointFunc, lower, upper float64) *Problem {
	return p.constrain(name, End, fn, lower, upper)
}

func (p *Problem) Path(name string, fn PointFunc, lower, upper float64) *Problem {
	return p.constrain(name, Path, fn, lower, upper)
}

func (p *Problem) constrain(name string, stage Stage, fn PointFunc, lower, upper float64) *Problem {
	p.Constraints = append(p.Constraints, Constraint{
		Name:  name,
		Stage: stage,
		Fn:    fn,
		Bound: Bound{Lower: lower, Upper: upper},
	})
	return p
}

func (p *Problem) FixInitialState(x0 ...float64) *Problem {
	p.Initial = append([]float64(nil), x0...)
	return p
}

func (p *Problem) BoundState(i int, lower, upper float64) *Problem {
	p.setBound(p.StateBounds, "state", i, lower, upper)
	return p
}

func (p *Problem) BoundControl(i int, lower, upper float64) *Problem {
	p.setBound(p.ControlBounds, "control", i, lower, upper)
	return p
}

func (p *Problem) BoundParameter(i int, lower, upper float64) *Problem {
	p.setBound(p.ParameterBounds, "parameter", i, lower, upper)
	return p
}

func (p *Problem) setBound(bounds []Bound, kind string, i int, lower, upper float64) {
	if i < 0 || i >= len(bounds) {
		p.errs = append(p.errs, fmt.Errorf("%s index %d out of range [0,%d)", kind, i, len(bounds)))
		return
	}
	bounds[i] = Bound{Lower: lower, Upper: upper}
}

// FreeEndTime makes the end time a decision variable in [lower, upper].
func (p *Problem) FreeEndTime(lower, upper float64) *Problem {
	p.Horizon.FreeEnd = true
	p.Horizon.EndBound = Bound{Lower: lower, Upper: upper}
	return p
}

func (p *Problem) WithNames(n Names) *Problem {
	p.Names = n
	return p
}

func (p *Problem) WithGuess(g Guess) *Problem {
	p.Guess = g
	return p
}

// Validate reports every structural error of the problem at once.
func (p *Problem) Validate() error {
	errs := append([]error(nil), p.errs...)
	if p.Model == nil {
		return fmt.Errorf("%w: %s: no model", ErrInvalidProblem, p.Name)
	}
	d := p.Model.Dims()
	if d.Differential <= 0 || d.Algebraic < 0 || d.Control < 0 || d.Parameter < 0 {
		errs = append(errs, fmt.Errorf("dimensions %+v", d))
	}

	h := p.Horizon
	if h.Intervals < 1 {
		errs = append(errs, fmt.Errorf("%d intervals, need at least 1", h.Intervals))
	}
	if !(h.End > h.Start) {
		errs = append(errs, fmt.Errorf("horizon [%g, %g] is empty", h.Start, h.End))
	}
	if h.FreeEnd {
		b := h.EndBound
		if !(b.Lower > h.Start) || b.Lower > b.Upper || math.IsInf(b.Upper, 1) {
			errs = append(errs, fmt.Errorf("end time bounds [%g, %g] must be finite with %g < lower <= upper", b.Lower, b.Upper, h.Start))
		}
	}

	if p.Mayer == nil && p.Lagrange == nil {
		errs = append(errs, errors.New("no objective"))
	}

	errs = append(errs, checkBounds("state", p.StateBounds, d.Differential)...)
	errs = append(errs, checkBounds("control", p.ControlBounds, d.Control)...)
	errs = append(errs, checkBounds("parameter", p.ParameterBounds, d.Parameter)...)

	for _, c := range p.Constraints {
		switch {
		case c.Fn == nil:
			errs = append(errs, fmt.Errorf("constraint %q has no function", c.Name))
		case c.Stage < Start || c.Stage > Path:
			errs = append(errs, fmt.Errorf("constraint %q has stage %d", c.Name, int(c.Stage)))
		case c.Bound.Unbounded():
			errs = append(errs, fmt.Errorf("constraint %q is unbounded on both sides", c.Name))
		case math.IsNaN(c.Bound.Lower) || math.IsNaN(c.Bound.Upper) || c.Bound.Lower > c.Bound.Upper:
			errs = append(errs, fmt.Errorf("constraint %q has bounds [%g, %g]", c.Name, c.Bound.Lower, c.Bound.Upper))
		}
	}

	if p.Initial != nil && len(p.Initial) != d.Differential {
		errs = append(errs, fmt.Errorf("initial state has %d entries, want %d", len(p.Initial), d.Differential))
	}

	errs = append(errs, checkLen("state guess", p.Guess.State, d.Differential)...)
	errs = append(errs, checkLen("algebraic guess", p.Guess.Algebraic, d.Algebraic)...)
	errs = append(errs, checkLen("control guess", p.Guess.Control, d.Control)...)
	errs = append(errs, checkLen("parameter guess", p.Guess.Parameters, d.Parameter)...)
	if p.Guess.Controls != nil {
		if len(p.Guess.Controls) != h.Intervals {
			errs = append(errs, fmt.Errorf("control guess has %d intervals, want %d", len(p.Guess.Controls), h.Intervals))
		}
		for i, u := range p.Guess.Controls {
			if len(u) != d.Control {
				errs = append(errs, fmt.Errorf("control guess %d has %d entries, want %d", i, len(u), d.Control))
				break
			}
		}
	}

	errs = append(errs, checkNames("state", p.Names.States, d.Differential)...)
	errs = append(errs, checkNames("algebraic", p.Names.Algebraic, d.Algebraic)...)
	errs = append(errs, checkNames("control", p.Names.Controls, d.Control)...)
	errs = append(errs, checkNames("parameter", p.Names.Parameters, d.Parameter)...)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrInvalidProblem, p.Name, errors.Join(errs...))
}

func checkBounds(kind string, b []Bound, n int) []error {
	if b != nil && len(b) != n {
		return []error{fmt.Errorf("%d %s bounds, want %d", len(b), kind, n)}
	}
	var errs []error
	for i, bi := range b {
		if math.IsNaN(bi.Lower) || math.IsNaN(bi.Upper) || bi.Lower > bi.Upper {
			errs = append(errs, fmt.Errorf("%s %d has bounds [%g, %g]", kind, i, bi.Lower, bi.Upper))
		}
	}
	return errs
}

// boundAt treats a nil bound list as unbounded.
func boundAt(b []Bound, i int) Bound {
	if b == nil {
		return Free()
	}
	return b[i]
}

func checkLen(kind string, v []float64, n int) []error {
	if v != nil && len(v) != n {
		return []error{fmt.Errorf("%s has %d entries, want %d", kind, len(v), n)}
	}
	return nil
}

func checkNames(kind string, names []string, n int) []error {
	if names != nil && len(names) != n {
		return []error{fmt.Errorf("%d %s names, want %d", len(names), kind, n)}
	}
	return nil
}

// StateNames returns the state names, generating x0, x1, ... when unset.
func (p *Problem) StateNames() []string {
	return namesOr(p.Names.States, "x", p.Model.Dims().Differential)
}

func (p *Problem) AlgebraicNames() []string {
	return namesOr(p.Names.Algebraic, "z", p.Model.Dims().Algebraic)
}

func (p *Problem) ControlNames() []string {
	return namesOr(p.Names.Controls, "u", p.Model.Dims().Control)
}

func (p *Problem) ParameterNames() []string {
	return namesOr(p.Names.Parameters, "p", p.Model.Dims().Parameter)
}

func namesOr(names []string, prefix string, n int) []string {
	if len(names) == n {
		return names
	}
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}
