package aml

import "strings"

// Component is the shared interface of objectives and constraints: an
// expression wrapper that evaluates, differentiates and reports structural
// sparsity.
type Component interface {
	Evaluate() float64
	Value() float64
	AD(v *Var, newEval bool) float64
	AD2(v1, v2 *Var, newEval bool) float64
	HasAD2(v1, v2 *Var) bool
	Vars() []*Var
	String() string
}

// GeneralConstraint is a Component with bounds, a dual and a model index:
// either a plain Constraint or a ConditionalConstraint.
type GeneralConstraint interface {
	Component
	Bounds() (lb, ub float64)
	GetDual() float64
	SetDual(dual float64)
	GetIndex() int
	SetIndex(ndx int)
}

// Objective wraps the expression being minimized.
type Objective struct {
	Name string

	expr  Expr
	value float64
}

// NewObjective creates an objective from an expression.
func NewObjective(e Expr) *Objective {
	return &Objective{expr: e}
}

// Expr returns the wrapped expression.
func (o *Objective) Expr() Expr { return o.expr }

// Evaluate implements Component and caches the objective value.
func (o *Objective) Evaluate() float64 {
	o.value = o.expr.Evaluate()
	return o.value
}

// Value returns the value cached by the last Evaluate.
func (o *Objective) Value() float64 { return o.value }

// AD implements Component.
func (o *Objective) AD(v *Var, newEval bool) float64 {
	return o.expr.AD(v, newEval)
}

// AD2 implements Component.
func (o *Objective) AD2(v1, v2 *Var, newEval bool) float64 {
	return o.expr.AD2(v1, v2, newEval)
}

// HasAD2 implements Component.
func (o *Objective) HasAD2(v1, v2 *Var) bool {
	return o.expr.HasAD2(v1, v2)
}

// Vars implements Component.
func (o *Objective) Vars() []*Var { return o.expr.Vars() }

func (o *Objective) String() string { return o.expr.String() }

// Constraint wraps an expression with bounds. lb == ub makes an equality;
// lb < ub a range. The solver-recognized unbounded sentinel is ±1e20.
type Constraint struct {
	Name string
	LB   float64
	UB   float64

	expr  Expr
	value float64
	dual  float64
	index int
}

// NewConstraint creates a constraint lb <= expr <= ub.
func NewConstraint(e Expr, lb, ub float64) *Constraint {
	return &Constraint{expr: e, LB: lb, UB: ub, index: -1}
}

// Expr returns the wrapped expression.
func (c *Constraint) Expr() Expr { return c.expr }

// Evaluate implements Component and caches the constraint body value.
func (c *Constraint) Evaluate() float64 {
	c.value = c.expr.Evaluate()
	return c.value
}

// Value returns the value cached by the last Evaluate.
func (c *Constraint) Value() float64 { return c.value }

// AD implements Component.
func (c *Constraint) AD(v *Var, newEval bool) float64 {
	return c.expr.AD(v, newEval)
}

// AD2 implements Component.
func (c *Constraint) AD2(v1, v2 *Var, newEval bool) float64 {
	return c.expr.AD2(v1, v2, newEval)
}

// HasAD2 implements Component.
func (c *Constraint) HasAD2(v1, v2 *Var) bool {
	return c.expr.HasAD2(v1, v2)
}

// Vars implements Component.
func (c *Constraint) Vars() []*Var { return c.expr.Vars() }

func (c *Constraint) String() string { return c.expr.String() }

// Bounds implements GeneralConstraint.
func (c *Constraint) Bounds() (float64, float64) { return c.LB, c.UB }

// GetDual implements GeneralConstraint.
func (c *Constraint) GetDual() float64 { return c.dual }

// SetDual implements GeneralConstraint.
func (c *Constraint) SetDual(dual float64) { c.dual = dual }

// GetIndex implements GeneralConstraint.
func (c *Constraint) GetIndex() int { return c.index }

// SetIndex implements GeneralConstraint.
func (c *Constraint) SetIndex(ndx int) { c.index = ndx }

// ConditionalConstraint is a piecewise constraint: an if/elif/else ladder of
// condition expressions and branch expressions, with one more branch than
// conditions. The active branch is the first whose condition evaluates to
// <= 0, or the trailing else branch. All derivatives come from the active
// branch; the Hessian sparsity is the union across branches, so the pattern
// is stable under branch switching.
type ConditionalConstraint struct {
	Name string
	LB   float64
	UB   float64

	conditions []Expr
	branches   []Expr
	value      float64
	dual       float64
	index      int

	vars []*Var
}

// NewConditionalConstraint creates an empty conditional constraint with the
// given bounds. Populate it with AddCondition calls followed by one
// AddFinalExpr.
func NewConditionalConstraint(lb, ub float64) *ConditionalConstraint {
	return &ConditionalConstraint{LB: lb, UB: ub, index: -1}
}

// AddCondition appends a (condition, branch) pair to the ladder.
func (c *ConditionalConstraint) AddCondition(condition, branch Expr) {
	c.conditions = append(c.conditions, condition)
	c.branches = append(c.branches, branch)
	c.vars = nil
}

// AddFinalExpr appends the trailing else branch.
func (c *ConditionalConstraint) AddFinalExpr(branch Expr) {
	c.branches = append(c.branches, branch)
	c.vars = nil
}

// Conditions returns the condition ladder.
func (c *ConditionalConstraint) Conditions() []Expr { return c.conditions }

// Branches returns the branch expressions, the else branch last.
func (c *ConditionalConstraint) Branches() []Expr { return c.branches }

// activeBranch evaluates the condition ladder and returns the selected
// branch expression.
func (c *ConditionalConstraint) activeBranch() Expr {
	for i, cond := range c.conditions {
		if cond.Evaluate() <= 0 {
			return c.branches[i]
		}
	}
	return c.branches[len(c.branches)-1]
}

// Evaluate implements Component: the ladder is re-scanned on every call.
func (c *ConditionalConstraint) Evaluate() float64 {
	c.value = c.activeBranch().Evaluate()
	return c.value
}

// Value returns the value cached by the last Evaluate.
func (c *ConditionalConstraint) Value() float64 { return c.value }

// AD implements Component, differentiating the active branch.
func (c *ConditionalConstraint) AD(v *Var, newEval bool) float64 {
	return c.activeBranch().AD(v, newEval)
}

// AD2 implements Component, differentiating the active branch.
func (c *ConditionalConstraint) AD2(v1, v2 *Var, newEval bool) float64 {
	return c.activeBranch().AD2(v1, v2, newEval)
}

// HasAD2 implements Component: true if any branch contributes, so the
// recorded sparsity pattern covers every branch.
func (c *ConditionalConstraint) HasAD2(v1, v2 *Var) bool {
	for _, b := range c.branches {
		if b.HasAD2(v1, v2) {
			return true
		}
	}
	return false
}

// Vars implements Component: the union of the branch variable sets in
// first-use order. Condition variables do not count.
func (c *ConditionalConstraint) Vars() []*Var {
	if c.vars != nil {
		return c.vars
	}
	seen := make(map[*Var]bool)
	var out []*Var
	for _, b := range c.branches {
		for _, v := range b.Vars() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	c.vars = out
	return out
}

func (c *ConditionalConstraint) String() string {
	var b strings.Builder
	for i, cond := range c.conditions {
		if i == 0 {
			b.WriteString("if ")
		} else {
			b.WriteString("elif ")
		}
		b.WriteString(cond.String())
		b.WriteString(" <= 0:\n\t")
		b.WriteString(c.branches[i].String())
		b.WriteString("\n")
	}
	b.WriteString("else: \n\t")
	b.WriteString(c.branches[len(c.branches)-1].String())
	b.WriteString("\n")
	return b.String()
}

// Bounds implements GeneralConstraint.
func (c *ConditionalConstraint) Bounds() (float64, float64) { return c.LB, c.UB }

// GetDual implements GeneralConstraint.
func (c *ConditionalConstraint) GetDual() float64 { return c.dual }

// SetDual implements GeneralConstraint.
func (c *ConditionalConstraint) SetDual(dual float64) { c.dual = dual }

// GetIndex implements GeneralConstraint.
func (c *ConditionalConstraint) GetIndex() int { return c.index }

// SetIndex implements GeneralConstraint.
func (c *ConditionalConstraint) SetIndex(ndx int) { c.index = ndx }
