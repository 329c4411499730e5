package control

import (
	"fmt"
	"math"
	"sort"

	"github.com/khanhln2907/acado/internal/dynamo"
)

// PiecewiseConstant applies controls[i] on [times[i], times[i+1]). Before
// times[0] the first control is used and from the last grid time onward the
// last control is held.
type PiecewiseConstant struct {
	times    []float64
	controls []dynamo.Control
	// eps absorbs rounding in sample times that land on a grid time.
	eps float64
}

// NewPiecewiseConstant builds a schedule. times must be strictly increasing
// and len(times) must equal len(controls) or len(controls)+1 (a grid with
// an end time).
func NewPiecewiseConstant(times []float64, controls [][]float64) (*PiecewiseConstant, error) {
	if len(controls) == 0 {
		return nil, fmt.Errorf("piecewise constant: no controls")
	}
	if len(times) != len(controls) && len(times) != len(controls)+1 {
		return nil, fmt.Errorf("piecewise constant: %d times for %d controls", len(times), len(controls))
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return nil, fmt.Errorf("piecewise constant: times not increasing at %d", i)
		}
	}

	p := &PiecewiseConstant{
		times:    append([]float64(nil), times[:len(controls)]...),
		controls: make([]dynamo.Control, len(controls)),
	}
	for i, u := range controls {
		p.controls[i] = dynamo.Control(u).Clone()
	}
	span := times[len(times)-1] - times[0]
	p.eps = 1e-9 * math.Max(1, math.Abs(span))
	return p, nil
}

func (p *PiecewiseConstant) Compute(x dynamo.State, t float64) dynamo.Control {
	// index of the last grid time <= t
	i := sort.Search(len(p.times), func(k int) bool { return p.times[k] > t+p.eps }) - 1
	if i < 0 {
		i = 0
	}
	return p.controls[i].Clone()
}
