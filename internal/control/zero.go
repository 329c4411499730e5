package control

import "github.com/khanhln2907/acado/internal/dynamo"

type Zero struct {
	dim int
}

func NewZero(dim int) *Zero {
	return &Zero{
		dim: dim,
	}
}

func (n *Zero) Compute(x dynamo.State, t float64) dynamo.Control {
	return make(dynamo.Control, n.dim)
}
