// Package modelfile loads optimal control problems from HCL files:
//
//	problem "tutorial" {
//	  end       = 10
//	  intervals = 20
//
//	  differential "x" {
//	    rhs     = -0.5 * x - z + u
//	    initial = 1
//	  }
//	  algebraic "z" {
//	    residual = z + exp(z) - 1 + x
//	  }
//	  control "u" {
//	    lower = -2
//	    upper = 2
//	  }
//	  lagrange = x * x + 3 * u * u
//	}
package modelfile

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/khanhln2907/acado/internal/dynamo"
	"github.com/khanhln2907/acado/internal/logging"
	"github.com/khanhln2907/acado/internal/ocp"
	"go.uber.org/zap"
)

// Load parses and builds the problem in the HCL file at path.
func Load(ctx context.Context, path string) (*ocp.Problem, error) {
	logger := logging.FromContext(ctx)
	logger.Debug("loading problem file", zap.String("path", path))

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse problem file %s: %w", path, diags)
	}
	p, err := build(file.Body, path)
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded problem file", zap.String("path", path), zap.String("problem", p.Name))
	return p, nil
}

// Parse builds the problem in src. filename is used in diagnostics only.
func Parse(src []byte, filename string) (*ocp.Problem, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse problem file %s: %w", filename, diags)
	}
	return build(file.Body, filename)
}

func build(body hcl.Body, filename string) (*ocp.Problem, error) {
	var fb fileBlock
	if diags := gohcl.DecodeBody(body, nil, &fb); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode problem file %s: %w", filename, diags)
	}
	if len(fb.Problems) != 1 {
		return nil, fmt.Errorf("problem file %s: want exactly one problem block, found %d", filename, len(fb.Problems))
	}
	pb := fb.Problems[0]

	m, diags := newModel(pb)
	if diags.HasErrors() {
		return nil, fmt.Errorf("problem file %s: %w", filename, diags)
	}

	p := ocp.New(pb.Name, m, pb.Start, pb.End, pb.Intervals)
	p.WithNames(ocp.Names{
		States:     m.states,
		Algebraic:  m.algebraic,
		Controls:   m.controls,
		Parameters: m.parameters,
	})

	if isSet(pb.Mayer) {
		p.MinimizeMayer(m.Func(pb.Mayer))
	}
	if isSet(pb.Lagrange) {
		p.MinimizeLagrange(m.Func(pb.Lagrange))
	}

	guess := ocp.Guess{
		State:      make([]float64, len(pb.Differential)),
		Algebraic:  make([]float64, len(pb.Algebraic)),
		Control:    make([]float64, len(pb.Controls)),
		Parameters: make([]float64, len(pb.Parameters)),
	}

	initial := make([]float64, 0, len(pb.Differential))
	for i, d := range pb.Differential {
		p.BoundState(i, lowerOr(d.Lower), upperOr(d.Upper))
		guess.State[i] = valueOr(d.Guess, valueOr(d.Initial, 0))
		if d.Initial != nil {
			initial = append(initial, *d.Initial)
		}
	}
	switch {
	case len(initial) == len(pb.Differential):
		p.FixInitialState(initial...)
	case len(initial) > 0:
		for i, d := range pb.Differential {
			if d.Initial != nil {
				p.AtStart(d.Name+"_initial", func(pt dynamo.Point) float64 { return pt.X[i] }, *d.Initial, *d.Initial)
			}
		}
	}

	for i, a := range pb.Algebraic {
		guess.Algebraic[i] = valueOr(a.Guess, 0)
	}
	for i, c := range pb.Controls {
		p.BoundControl(i, lowerOr(c.Lower), upperOr(c.Upper))
		guess.Control[i] = valueOr(c.Guess, 0)
	}
	for i, v := range pb.Parameters {
		p.BoundParameter(i, lowerOr(v.Lower), upperOr(v.Upper))
		guess.Parameters[i] = valueOr(v.Guess, 0)
	}

	if pb.FreeEnd != nil {
		p.FreeEndTime(pb.FreeEnd.Lower, pb.FreeEnd.Upper)
		guess.EndTime = valueOr(pb.FreeEnd.Guess, pb.End)
	}
	p.WithGuess(guess)

	for _, c := range pb.Constraints {
		stage, err := ocp.ParseStage(c.Stage)
		if err != nil {
			return nil, fmt.Errorf("problem file %s: constraint %q: %w", filename, c.Name, err)
		}
		lo, up := lowerOr(c.Lower), upperOr(c.Upper)
		if c.Equals != nil {
			if c.Lower != nil || c.Upper != nil {
				return nil, fmt.Errorf("problem file %s: constraint %q sets equals together with lower or upper", filename, c.Name)
			}
			lo, up = *c.Equals, *c.Equals
		}
		switch stage {
		case ocp.Start:
			p.AtStart(c.Name, m.Func(c.Expr), lo, up)
		case ocp.End:
			p.AtEnd(c.Name, m.Func(c.Expr), lo, up)
		default:
			p.Path(c.Name, m.Func(c.Expr), lo, up)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("problem file %s: %w", filename, err)
	}
	return p, nil
}

// newModel collects the declared names and checks every expression for
// unknown variables and functions.
func newModel(pb problemBlock) (*Model, hcl.Diagnostics) {
	m := &Model{}
	var diags hcl.Diagnostics
	declared := map[string]bool{"t": true}

	declare := func(kind, name string, subject *hcl.Range) {
		switch {
		case !hclsyntax.ValidIdentifier(name):
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid name",
				Detail:   fmt.Sprintf("%s name %q is not a valid identifier.", kind, name),
				Subject:  subject,
			})
		case declared[name]:
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate name",
				Detail:   fmt.Sprintf("%s name %q is already declared.", kind, name),
				Subject:  subject,
			})
		}
		declared[name] = true
	}

	for _, d := range pb.Differential {
		declare("differential", d.Name, d.RHS.Range().Ptr())
		m.states = append(m.states, d.Name)
		m.rhs = append(m.rhs, d.RHS)
	}
	for _, a := range pb.Algebraic {
		declare("algebraic", a.Name, a.Residual.Range().Ptr())
		m.algebraic = append(m.algebraic, a.Name)
		m.residual = append(m.residual, a.Residual)
	}
	for _, c := range pb.Controls {
		declare("control", c.Name, nil)
		m.controls = append(m.controls, c.Name)
	}
	for _, v := range pb.Parameters {
		declare("parameter", v.Name, nil)
		m.parameters = append(m.parameters, v.Name)
	}
	m.dims.Differential = len(m.states)
	m.dims.Algebraic = len(m.algebraic)
	m.dims.Control = len(m.controls)
	m.dims.Parameter = len(m.parameters)

	exprs := append(append([]hcl.Expression{}, m.rhs...), m.residual...)
	if isSet(pb.Mayer) {
		exprs = append(exprs, pb.Mayer)
	}
	if isSet(pb.Lagrange) {
		exprs = append(exprs, pb.Lagrange)
	}
	for _, c := range pb.Constraints {
		exprs = append(exprs, c.Expr)
	}
	for _, expr := range exprs {
		diags = append(diags, checkExpr(expr, declared)...)
	}
	return m, diags
}

func checkExpr(expr hcl.Expression, declared map[string]bool) hcl.Diagnostics {
	var diags hcl.Diagnostics
	for _, tr := range expr.Variables() {
		if name := tr.RootName(); !declared[name] {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unknown variable",
				Detail:   fmt.Sprintf("There is no variable named %q; declared names are %v.", name, sortedNames(declared)),
				Subject:  tr.SourceRange().Ptr(),
			})
		}
	}
	node, ok := expr.(hclsyntax.Node)
	if !ok {
		return diags
	}
	diags = append(diags, hclsyntax.VisitAll(node, func(n hclsyntax.Node) hcl.Diagnostics {
		call, ok := n.(*hclsyntax.FunctionCallExpr)
		if !ok {
			return nil
		}
		if _, known := functions[call.Name]; known {
			return nil
		}
		return hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Unknown function",
			Detail:   fmt.Sprintf("There is no function named %q.", call.Name),
			Subject:  call.NameRange.Ptr(),
		}}
	})...)
	return diags
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// isSet reports whether an optional expression attribute was given; gohcl
// fills missing ones with a static null.
func isSet(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	if len(expr.Variables()) > 0 {
		return true
	}
	v, diags := expr.Value(nil)
	return diags.HasErrors() || !v.IsNull()
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func lowerOr(p *float64) float64 { return valueOr(p, math.Inf(-1)) }

func upperOr(p *float64) float64 { return valueOr(p, math.Inf(1)) }
