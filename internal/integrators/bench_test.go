package integrators

import (
	"testing"

	"github.com/khanhln2907/acado/internal/dynamo"
)

type benchDynamics struct{}

func (b *benchDynamics) Dims() dynamo.Dims { return dynamo.Dims{Differential: 2} }
func (b *benchDynamics) Derive(pt dynamo.Point) dynamo.State {
	return dynamo.State{pt.X[1], -pt.X[0]}
}
func (b *benchDynamics) Residual(dynamo.Point) dynamo.State { return nil }

func benchStep(b *testing.B, integ dynamo.Integrator, sys dynamo.DAE, pt dynamo.Point, dt float64) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := integ.Step(sys, pt, dt)
		if err != nil {
			b.Fatal(err)
		}
		pt = next
	}
}

func BenchmarkEuler(b *testing.B) {
	benchStep(b, NewEuler(), &benchDynamics{}, dynamo.Point{X: dynamo.State{1.0, 0.0}}, 0.01)
}

func BenchmarkRK4(b *testing.B) {
	benchStep(b, NewRK4(), &benchDynamics{}, dynamo.Point{X: dynamo.State{1.0, 0.0}}, 0.01)
}

func BenchmarkRK45(b *testing.B) {
	benchStep(b, NewRK45(), &benchDynamics{}, dynamo.Point{X: dynamo.State{1.0, 0.0}}, 0.01)
}

func BenchmarkImplicitEuler(b *testing.B) {
	benchStep(b, NewImplicitEuler(), &benchDynamics{}, dynamo.Point{X: dynamo.State{1.0, 0.0}}, 0.01)
}

func BenchmarkRK4_DAE(b *testing.B) {
	pt := dynamo.Point{X: dynamo.State{1}, Z: dynamo.State{0}, U: dynamo.Control{0}}
	benchStep(b, NewRK4(), tutorialDAE{}, pt, 0.001)
}
