package modelfile

import "github.com/hashicorp/hcl/v2"

type fileBlock struct {
	Problems []problemBlock `hcl:"problem,block"`
}

type problemBlock struct {
	Name      string  `hcl:"name,label"`
	Start     float64 `hcl:"start,optional"`
	End       float64 `hcl:"end"`
	Intervals int     `hcl:"intervals"`

	FreeEnd *freeEndBlock `hcl:"free_end,block"`

	Differential []differentialBlock `hcl:"differential,block"`
	Algebraic    []algebraicBlock    `hcl:"algebraic,block"`
	Controls     []variableBlock     `hcl:"control,block"`
	Parameters   []variableBlock     `hcl:"parameter,block"`

	Mayer    hcl.Expression `hcl:"mayer,optional"`
	Lagrange hcl.Expression `hcl:"lagrange,optional"`

	Constraints []constraintBlock `hcl:"constraint,block"`
}

type freeEndBlock struct {
	Lower float64  `hcl:"lower"`
	Upper float64  `hcl:"upper"`
	Guess *float64 `hcl:"guess,optional"`
}

type differentialBlock struct {
	Name    string         `hcl:"name,label"`
	RHS     hcl.Expression `hcl:"rhs"`
	Initial *float64       `hcl:"initial,optional"`
	Guess   *float64       `hcl:"guess,optional"`
	Lower   *float64       `hcl:"lower,optional"`
	Upper   *float64       `hcl:"upper,optional"`
}

type algebraicBlock struct {
	Name     string         `hcl:"name,label"`
	Residual hcl.Expression `hcl:"residual"`
	Guess    *float64       `hcl:"guess,optional"`
}

type variableBlock struct {
	Name  string   `hcl:"name,label"`
	Guess *float64 `hcl:"guess,optional"`
	Lower *float64 `hcl:"lower,optional"`
	Upper *float64 `hcl:"upper,optional"`
}

type constraintBlock struct {
	Name   string         `hcl:"name,label"`
	Stage  string         `hcl:"stage"`
	Expr   hcl.Expression `hcl:"expr"`
	Lower  *float64       `hcl:"lower,optional"`
	Upper  *float64       `hcl:"upper,optional"`
	Equals *float64       `hcl:"equals,optional"`
}
