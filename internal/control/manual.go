package control

import "github.com/khanhln2907/acado/internal/dynamo"

// Constant holds a manually set control vector for all time.
type Constant struct {
	U dynamo.Control
}

func NewConstant(u []float64) *Constant {
	return &Constant{U: dynamo.Control(u).Clone()}
}

// SetControl updates the control vector. Vectors of a different length are ignored.
func (c *Constant) SetControl(u []float64) {
	if len(u) != len(c.U) {
		return
	}
	copy(c.U, u)
}

func (c *Constant) Compute(state dynamo.State, t float64) dynamo.Control {
	return c.U.Clone()
}
