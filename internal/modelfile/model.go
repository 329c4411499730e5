package modelfile

import (
	"math"

	"github.com/hashicorp/hcl/v2"
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/ocp"
	"github.com/zclconf/go-cty/cty"
)

// Model is a DAE whose right-hand sides and residuals are HCL expressions
// over the declared names and t. Expressions that fail to evaluate yield
// NaN, which the integrators report as an invalid state.
type Model struct {
	dims       dynamo.Dims
	states     []string
	algebraic  []string
	controls   []string
	parameters []string

	rhs      []hcl.Expression
	residual []hcl.Expression
}

func (m *Model) Dims() dynamo.Dims { return m.dims }

func (m *Model) Derive(pt dynamo.Point) dynamo.State {
	return m.evalAll(m.rhs, pt)
}

func (m *Model) Residual(pt dynamo.Point) dynamo.State {
	if len(m.residual) == 0 {
		return nil
	}
	return m.evalAll(m.residual, pt)
}

func (m *Model) evalAll(exprs []hcl.Expression, pt dynamo.Point) dynamo.State {
	out := make(dynamo.State, len(exprs))
	ctx := m.context(pt)
	for i, expr := range exprs {
		out[i] = evaluate(expr, ctx)
	}
	return out
}

// Func compiles expr into a point function.
func (m *Model) Func(expr hcl.Expression) ocp.PointFunc {
	return func(pt dynamo.Point) float64 {
		return evaluate(expr, m.context(pt))
	}
}

// context binds the point to variables. It returns nil when the point holds
// NaN or Inf, which cty numbers cannot represent.
func (m *Model) context(pt dynamo.Point) *hcl.EvalContext {
	vars := make(map[string]cty.Value, m.dims.Differential+m.dims.Algebraic+m.dims.Control+m.dims.Parameter+1)
	ok := bind(vars, []string{"t"}, []float64{pt.T}) &&
		bind(vars, m.states, pt.X) &&
		bind(vars, m.algebraic, pt.Z) &&
		bind(vars, m.controls, pt.U) &&
		bind(vars, m.parameters, pt.P)
	if !ok {
		return nil
	}
	return &hcl.EvalContext{Variables: vars, Functions: functions}
}

func bind(vars map[string]cty.Value, names []string, values []float64) bool {
	for i, name := range names {
		if i >= len(values) {
			return false
		}
		v := values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		vars[name] = cty.NumberFloatVal(v)
	}
	return true
}

func evaluate(expr hcl.Expression, ctx *hcl.EvalContext) float64 {
	if ctx == nil {
		return math.NaN()
	}
	v, diags := expr.Value(ctx)
	if diags.HasErrors() || v.IsNull() || !v.IsKnown() || v.Type() != cty.Number {
		return math.NaN()
	}
	f, _ := v.AsBigFloat().Float64()
	return f
}
