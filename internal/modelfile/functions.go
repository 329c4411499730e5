package modelfile

import (
	"errors"
	"math"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

var errNotNumber = errors.New("result is not a number")

// functions are the math functions available in expressions.
var functions = map[string]function.Function{
	"exp":  unary(math.Exp),
	"log":  unary(math.Log),
	"sqrt": unary(math.Sqrt),
	"sin":  unary(math.Sin),
	"cos":  unary(math.Cos),
	"tan":  unary(math.Tan),
	"tanh": unary(math.Tanh),
	"abs":  unary(math.Abs),
	"pow":  binary(math.Pow),
	"min":  binary(math.Min),
	"max":  binary(math.Max),
}

func unary(fn func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "x", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			x, _ := args[0].AsBigFloat().Float64()
			return number(fn(x))
		},
	})
}

func binary(fn func(float64, float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "a", Type: cty.Number},
			{Name: "b", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			a, _ := args[0].AsBigFloat().Float64()
			b, _ := args[1].AsBigFloat().Float64()
			return number(fn(a, b))
		},
	})
}

func number(v float64) (cty.Value, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return cty.NilVal, errNotNumber
	}
	return cty.NumberFloatVal(v), nil
}
