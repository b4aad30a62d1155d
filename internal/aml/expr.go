// Package aml implements an algebraic modeling layer for constrained
// nonlinear optimization. Expressions are built from variables, parameters
// and numeric constants with the package-level Add, Sub, Mul, Div, Pow and
// unary function constructors; they support forward evaluation, first and
// second order forward-mode automatic differentiation, and structural
// sparsity queries used to discover Jacobian and Hessian patterns without
// evaluating at a point.
package aml

import "strconv"

// Kind identifies the operand kind of an expression node. Binary operator
// dispatch is keyed by the pair of operand kinds: derivative formulas
// collapse to cheaper forms when one side is a Param or Float, which is
// constant with respect to every variable.
type Kind uint8

const (
	// KindFloat is an anonymous numeric constant.
	KindFloat Kind = iota
	// KindParam is a named constant.
	KindParam
	// KindVar is a decision variable.
	KindVar
	// KindExpr is an assembled operator expression.
	KindExpr
)

// Unbounded sentinels. The solver adapter recognizes magnitudes at or above
// 1e19 as "no bound"; the compiled evaluator mode uses the wider 1e100
// sentinel for its inequality opcode.
const (
	Unbounded          = 1.0e20
	EvaluatorUnbounded = 1.0e100
)

// Expr is the common interface of leaves (Var, Param, Float) and assembled
// expressions. All derivative queries are with respect to Vars; Params and
// Floats are constants under differentiation.
type Expr interface {
	// Kind reports the operand kind of the expression root.
	Kind() Kind

	// Evaluate runs a forward pass and returns the expression value.
	// Intermediate node values are cached for subsequent AD calls.
	Evaluate() float64

	// Value returns the value computed by the most recent Evaluate.
	Value() float64

	// AD returns the first partial derivative with respect to v. If newEval
	// is true the expression is re-evaluated first; pass false to reuse the
	// node values cached by a preceding Evaluate or AD call.
	AD(v *Var, newEval bool) float64

	// AD2 returns the second partial derivative with respect to (v1, v2),
	// evaluated with the same newEval convention as AD.
	AD2(v1, v2 *Var, newEval bool) float64

	// HasAD reports whether the expression structurally depends on v.
	HasAD(v *Var) bool

	// HasAD2 reports whether the second partial with respect to (v1, v2)
	// can be structurally nonzero.
	HasAD2(v1, v2 *Var) bool

	// Vars returns the variables referenced by the expression in
	// deterministic first-use order.
	Vars() []*Var

	String() string

	// last returns the root node of the expression graph.
	last() node
}

// Leaf is a terminal expression node: a Var, Param or Float.
type Leaf interface {
	Expr
	leafNode()
}

// Var is a decision variable. Identity is by pointer: two Vars holding equal
// values are distinct variables. Index is assigned when the Var is
// registered with a Model or Evaluator and is stable between mutations.
type Var struct {
	Name   string
	LB     float64
	UB     float64
	LBDual float64
	UBDual float64
	Index  int

	val float64
}

// NewVar creates an unbounded variable with the given starting value.
func NewVar(value float64) *Var {
	return &Var{val: value, LB: -Unbounded, UB: Unbounded, Index: -1}
}

func (v *Var) leafNode() {}

// Kind implements Expr.
func (v *Var) Kind() Kind { return KindVar }

// Evaluate implements Expr. For a Var it is the current value.
func (v *Var) Evaluate() float64 { return v.val }

// Value returns the variable's current value.
func (v *Var) Value() float64 { return v.val }

// SetValue assigns the variable's current value.
func (v *Var) SetValue(val float64) { v.val = val }

// AD implements Expr: the partial of a variable with respect to itself is 1.
func (v *Var) AD(q *Var, _ bool) float64 {
	if v == q {
		return 1
	}
	return 0
}

// AD2 implements Expr. Second partials of a bare variable are always zero.
func (v *Var) AD2(_, _ *Var, _ bool) float64 { return 0 }

// HasAD implements Expr.
func (v *Var) HasAD(q *Var) bool { return v == q }

// HasAD2 implements Expr.
func (v *Var) HasAD2(_, _ *Var) bool { return false }

// Vars implements Expr.
func (v *Var) Vars() []*Var { return []*Var{v} }

func (v *Var) String() string {
	if v.Name != "" {
		return v.Name
	}
	return formatValue(v.val)
}

func (v *Var) last() node { return v }

// Param is a named constant. It holds a mutable value but never seeds
// differentiation.
type Param struct {
	Name string

	val float64
}

// NewParam creates a parameter with the given value.
func NewParam(value float64) *Param {
	return &Param{val: value}
}

func (p *Param) leafNode() {}

// Kind implements Expr.
func (p *Param) Kind() Kind { return KindParam }

// Evaluate implements Expr.
func (p *Param) Evaluate() float64 { return p.val }

// Value returns the parameter's current value.
func (p *Param) Value() float64 { return p.val }

// SetValue assigns the parameter's current value.
func (p *Param) SetValue(val float64) { p.val = val }

// AD implements Expr. Parameters are constants under differentiation.
func (p *Param) AD(_ *Var, _ bool) float64 { return 0 }

// AD2 implements Expr.
func (p *Param) AD2(_, _ *Var, _ bool) float64 { return 0 }

// HasAD implements Expr.
func (p *Param) HasAD(_ *Var) bool { return false }

// HasAD2 implements Expr.
func (p *Param) HasAD2(_, _ *Var) bool { return false }

// Vars implements Expr.
func (p *Param) Vars() []*Var { return nil }

func (p *Param) String() string {
	if p.Name != "" {
		return p.Name
	}
	return formatValue(p.val)
}

func (p *Param) last() node { return p }

// Float is an anonymous numeric constant, typically produced by build-time
// folding. Floats are shared freely between expressions; the garbage
// collector provides the shared-ownership lifetime.
type Float struct {
	val float64
}

// NewFloat creates an anonymous constant.
func NewFloat(value float64) *Float {
	return &Float{val: value}
}

func (f *Float) leafNode() {}

// Kind implements Expr.
func (f *Float) Kind() Kind { return KindFloat }

// Evaluate implements Expr.
func (f *Float) Evaluate() float64 { return f.val }

// Value returns the constant's value.
func (f *Float) Value() float64 { return f.val }

// AD implements Expr.
func (f *Float) AD(_ *Var, _ bool) float64 { return 0 }

// AD2 implements Expr.
func (f *Float) AD2(_, _ *Var, _ bool) float64 { return 0 }

// HasAD implements Expr.
func (f *Float) HasAD(_ *Var) bool { return false }

// HasAD2 implements Expr.
func (f *Float) HasAD2(_, _ *Var) bool { return false }

// Vars implements Expr.
func (f *Float) Vars() []*Var { return nil }

func (f *Float) String() string { return formatValue(f.val) }

func (f *Float) last() node { return f }

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
