package metrics

import (
	"math"

	"github.com/khanhln2907/acado/internal/dynamo"
)

// ControlEffort is the mean L1 norm of the applied controls. Samples are
// weighted by the time to the next one once times advance; equally
// otherwise.
type ControlEffort struct {
	name string

	weighted, weight float64
	plain            float64
	samples          int

	last    float64
	lastT   float64
	started bool
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{name: "control_effort"}
}

func (c *ControlEffort) Name() string { return c.name }

func (c *ControlEffort) Observe(pt dynamo.Point) {
	norm := 0.0
	for _, u := range pt.U {
		norm += math.Abs(u)
	}
	if c.started && pt.T > c.lastT {
		dt := pt.T - c.lastT
		c.weighted += c.last * dt
		c.weight += dt
	}
	c.plain += norm
	c.samples++
	c.last, c.lastT, c.started = norm, pt.T, true
}

func (c *ControlEffort) Value() float64 {
	switch {
	case c.weight > 0:
		return c.weighted / c.weight
	case c.samples > 0:
		return c.plain / float64(c.samples)
	}
	return 0
}

func (c *ControlEffort) Reset() {
	*c = ControlEffort{name: c.name}
}
