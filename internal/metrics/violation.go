package metrics

import (
	"math"

	"github.com/khanhln2907/acado/internal/dynamo"
)

// ConstraintViolation tracks the largest amount by which fn leaves
// [lower, upper] along a trajectory. Infinite bounds are never violated.
type ConstraintViolation struct {
	name         string
	fn           func(dynamo.Point) float64
	lower, upper float64
	worst        float64
	violations   int
	samples      int
}

func NewConstraintViolation(name string, fn func(dynamo.Point) float64, lower, upper float64) *ConstraintViolation {
	return &ConstraintViolation{
		name:  name,
		fn:    fn,
		lower: lower,
		upper: upper,
	}
}

func (c *ConstraintViolation) Name() string {
	return c.name
}

func (c *ConstraintViolation) Observe(pt dynamo.Point) {
	c.samples++
	v := c.fn(pt)
	d := math.Max(c.lower-v, v-c.upper)
	if d > 0 {
		c.violations++
		c.worst = math.Max(c.worst, d)
	}
}

func (c *ConstraintViolation) Value() float64 {
	return c.worst
}

// Fraction returns the share of observed points that violated the bounds.
func (c *ConstraintViolation) Fraction() float64 {
	if c.samples == 0 {
		return 0
	}
	return float64(c.violations) / float64(c.samples)
}

func (c *ConstraintViolation) Reset() {
	c.worst = 0
	c.violations = 0
	c.samples = 0
}
