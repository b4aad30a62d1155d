package aml

import "strings"

// opsList is the shared backing store of an Expression's operator sequence.
// Several expressions may reference the same list with different prefix
// lengths; an expression owns the list exclusively when its prefix length
// equals the list length, and only then may it append in place.
type opsList struct {
	ops []operator
}

// Expression is an ordered, topologically sorted sequence of operator nodes.
// The last node's value is the expression's value. Expressions are built by
// the package-level operator constructors; treat the returned expression as
// replacing its operands — extending an expression may reuse its operand's
// node storage.
type Expression struct {
	shared *opsList
	n      int

	vars []*Var
}

func newExpression(ops ...operator) *Expression {
	return &Expression{shared: &opsList{ops: ops}, n: len(ops)}
}

func (e *Expression) exclusive() bool {
	return len(e.shared.ops) == e.n
}

// prefix returns the operator slice owned by this expression.
func (e *Expression) prefix() []operator {
	return e.shared.ops[:e.n]
}

// clonePrefix returns an expression with a private copy of the operator
// list. Operator nodes themselves are shared.
func (e *Expression) clonePrefix() *Expression {
	ops := make([]operator, e.n, e.n+1)
	copy(ops, e.prefix())
	return &Expression{shared: &opsList{ops: ops}, n: e.n}
}

// push appends an operator, cloning the list first when it is shared with
// another expression.
func (e *Expression) push(op operator) *Expression {
	base := e
	if !e.exclusive() {
		base = e.clonePrefix()
	}
	base.shared.ops = append(base.shared.ops, op)
	return &Expression{shared: base.shared, n: base.n + 1}
}

// concat returns an expression whose operator list is e's prefix followed by
// o's prefix. e's backing list is extended in place when exclusively owned.
func (e *Expression) concat(o *Expression) *Expression {
	base := e
	if !e.exclusive() {
		base = e.clonePrefix()
	}
	base.shared.ops = append(base.shared.ops, o.prefix()...)
	return &Expression{shared: base.shared, n: base.n + len(o.prefix())}
}

// lastSummation returns the trailing summation node, or nil if the last
// operator is not a summation.
func (e *Expression) lastSummation() *summation {
	if e.n == 0 {
		return nil
	}
	s, _ := e.shared.ops[e.n-1].(*summation)
	return s
}

// Kind implements Expr.
func (e *Expression) Kind() Kind { return KindExpr }

func (e *Expression) last() node { return e.shared.ops[e.n-1] }

// Evaluate implements Expr: a forward pass over the operator list in
// topological order. After it returns, every node's cached value is current.
func (e *Expression) Evaluate() float64 {
	ops := e.prefix()
	for _, op := range ops {
		op.evaluate()
	}
	return ops[len(ops)-1].nodeValue()
}

// Value implements Expr.
func (e *Expression) Value() float64 {
	return e.last().nodeValue()
}

// AD implements Expr: a first-order forward-accumulation sweep with respect
// to v.
func (e *Expression) AD(v *Var, newEval bool) float64 {
	if newEval {
		e.Evaluate()
	}
	ops := e.prefix()
	for _, op := range ops {
		op.ad(v)
	}
	return nodeD1(e.last(), v)
}

// AD2 implements Expr: first and second partials together with respect to
// (v1, v2).
func (e *Expression) AD2(v1, v2 *Var, newEval bool) float64 {
	if newEval {
		e.Evaluate()
	}
	ops := e.prefix()
	for _, op := range ops {
		op.ad2(v1, v2)
	}
	return nodeDD(e.last())
}

// HasAD implements Expr: the boolean shadow of AD, evaluated structurally.
func (e *Expression) HasAD(v *Var) bool {
	ops := e.prefix()
	for _, op := range ops {
		op.sweepHas(v)
	}
	return nodeHas1(e.last(), v)
}

// HasAD2 implements Expr: the boolean shadow of AD2.
func (e *Expression) HasAD2(v1, v2 *Var) bool {
	ops := e.prefix()
	for _, op := range ops {
		op.sweepHas2(v1, v2)
	}
	return nodeHasDD(e.last())
}

// Vars implements Expr. The set is computed once and cached; expressions are
// not extended after they become visible to callers.
func (e *Expression) Vars() []*Var {
	if e.vars != nil {
		return e.vars
	}
	seen := make(map[*Var]bool)
	var out []*Var
	add := func(n node) {
		if v, ok := n.(*Var); ok && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, op := range e.prefix() {
		switch t := op.(type) {
		case *binOp:
			add(t.a1)
			add(t.a2)
		case *unOp:
			add(t.a)
		case *summation:
			for _, ch := range t.children {
				add(ch)
			}
		}
	}
	e.vars = out
	return out
}

func (e *Expression) String() string {
	strs := make(map[node]string)
	str := func(n node) string {
		if s, ok := strs[n]; ok {
			return s
		}
		return n.(Expr).String()
	}
	for _, op := range e.prefix() {
		switch t := op.(type) {
		case *binOp:
			var sym string
			switch t.op {
			case opMul:
				sym = "*"
			case opDiv:
				sym = "/"
			case opPow:
				sym = "**"
			}
			strs[t] = "(" + str(t.a1) + sym + str(t.a2) + ")"
		case *unOp:
			strs[t] = unFuncNames[t.fn] + "(" + str(t.a) + ")"
		case *summation:
			strs[t] = summationString(t, str)
		}
	}
	return str(e.last())
}

func summationString(s *summation, str func(node) string) string {
	var b strings.Builder
	b.WriteByte('(')
	first := true
	for i, ch := range s.children {
		c := s.coeffs[i]
		term := str(ch)
		switch {
		case first && c == 1:
			b.WriteString(term)
		case first && c == -1:
			b.WriteString("-" + term)
		case first:
			b.WriteString(formatValue(c) + "*" + term)
		case c == 1:
			b.WriteString(" + " + term)
		case c == -1:
			b.WriteString(" - " + term)
		case c < 0:
			b.WriteString(" - " + formatValue(-c) + "*" + term)
		default:
			b.WriteString(" + " + formatValue(c) + "*" + term)
		}
		first = false
	}
	if s.constant != 0 || first {
		switch {
		case first:
			b.WriteString(formatValue(s.constant))
		case s.constant < 0:
			b.WriteString(" - " + formatValue(-s.constant))
		default:
			b.WriteString(" + " + formatValue(s.constant))
		}
	}
	b.WriteByte(')')
	return b.String()
}
