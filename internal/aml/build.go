package aml

import "math"

// The operator constructors below implement the build-time dispatch and
// peephole simplification rules. Additive operations route through the
// summation builder so affine layers stay flat; multiplicative and power
// operations dispatch on the operand pair kind; constant folds happen
// eagerly. Structure violations (division by a constant zero, 0**0) panic
// with a tagged *Error.

// Add returns a + b.
func Add(a, b Expr) Expr { return addSigned(a, b, 1) }

// Sub returns a - b.
func Sub(a, b Expr) Expr { return addSigned(a, b, -1) }

// Neg returns -a, expressed as a single-child summation with coefficient -1
// (or by scaling in place when a is already summation-rooted).
func Neg(a Expr) Expr {
	switch t := a.(type) {
	case *Float:
		return NewFloat(-t.val)
	case *Expression:
		if t.lastSummation() != nil {
			return scaleSummationExpr(t, -1)
		}
		s := newSummation()
		s.appendChild(t.last(), -1, t.Vars())
		return t.push(s)
	default:
		s := newSummation()
		s.appendChild(a.last(), -1, a.Vars())
		return newExpression(s)
	}
}

func addSigned(a, b Expr, sign float64) Expr {
	fa, aIsF := a.(*Float)
	fb, bIsF := b.(*Float)
	if aIsF && bIsF {
		return NewFloat(fa.val + sign*fb.val)
	}
	if aIsF && fa.val == 0 {
		if sign == 1 {
			return b
		}
		return Neg(b)
	}
	if bIsF && fb.val == 0 {
		return a
	}

	ea, aIsE := a.(*Expression)
	eb, bIsE := b.(*Expression)
	var sa, sb *summation
	if aIsE {
		sa = ea.lastSummation()
	}
	if bIsE {
		sb = eb.lastSummation()
	}

	switch {
	case sa != nil && sb != nil:
		merged := sa.clone()
		merged.merge(sb, sign)
		ops := make([]operator, 0, ea.n+eb.n-1)
		ops = append(ops, ea.prefix()[:ea.n-1]...)
		ops = append(ops, eb.prefix()[:eb.n-1]...)
		ops = append(ops, merged)
		return newExpression(ops...)

	case sa != nil && !bIsE:
		return extendSummation(ea, b, sign)

	case sb != nil && !aIsE:
		res := scaleSummationExpr(eb, sign)
		return extendSummation(res, a, 1)

	case sa != nil:
		// summation + general expression: the expression's root becomes a
		// new term.
		s := sa.clone()
		s.appendChild(eb.last(), sign, eb.Vars())
		ops := make([]operator, 0, ea.n+eb.n)
		ops = append(ops, ea.prefix()[:ea.n-1]...)
		ops = append(ops, eb.prefix()...)
		ops = append(ops, s)
		return newExpression(ops...)

	case sb != nil:
		s := sb.clone()
		s.scale(sign)
		s.appendChild(ea.last(), 1, ea.Vars())
		ops := make([]operator, 0, ea.n+eb.n)
		ops = append(ops, eb.prefix()[:eb.n-1]...)
		ops = append(ops, ea.prefix()...)
		ops = append(ops, s)
		return newExpression(ops...)

	default:
		s := newSummation()
		addTermToSummation(s, a, 1)
		addTermToSummation(s, b, sign)
		var ops []operator
		if aIsE {
			ops = append(ops, ea.prefix()...)
		}
		if bIsE {
			ops = append(ops, eb.prefix()...)
		}
		ops = append(ops, s)
		return newExpression(ops...)
	}
}

// addTermToSummation folds Float terms into the constant and appends
// everything else as a scaled child.
func addTermToSummation(s *summation, x Expr, coeff float64) {
	if f, ok := x.(*Float); ok {
		s.constant += coeff * f.val
		return
	}
	s.appendChild(x.last(), coeff, x.Vars())
}

// extendSummation appends a term to a summation-rooted expression, cloning
// the operator list and the summation node when the list is shared.
func extendSummation(ea *Expression, x Expr, coeff float64) *Expression {
	var res *Expression
	if ea.exclusive() {
		res = &Expression{shared: ea.shared, n: ea.n}
	} else {
		res = ea.clonePrefix()
		res.shared.ops[res.n-1] = res.lastSummation().clone()
	}
	addTermToSummation(res.lastSummation(), x, coeff)
	return res
}

// scaleSummationExpr multiplies a summation-rooted expression by c, in place
// when the operator list is exclusively owned.
func scaleSummationExpr(eb *Expression, c float64) *Expression {
	if c == 1 {
		return eb
	}
	var res *Expression
	if eb.exclusive() {
		res = &Expression{shared: eb.shared, n: eb.n}
	} else {
		res = eb.clonePrefix()
		res.shared.ops[res.n-1] = res.lastSummation().clone()
	}
	res.lastSummation().scale(c)
	return res
}

// mulFloat scales x by a constant, producing or extending a summation
// instead of a multiply node.
func mulFloat(c float64, x Expr) Expr {
	if c == 0 {
		return NewFloat(0)
	}
	if c == 1 {
		return x
	}
	switch t := x.(type) {
	case *Float:
		return NewFloat(c * t.val)
	case *Expression:
		if t.lastSummation() != nil {
			return scaleSummationExpr(t, c)
		}
		s := newSummation()
		s.appendChild(t.last(), c, t.Vars())
		return t.push(s)
	default:
		s := newSummation()
		s.appendChild(x.last(), c, x.Vars())
		return newExpression(s)
	}
}

// Mul returns a * b.
func Mul(a, b Expr) Expr {
	if f, ok := a.(*Float); ok {
		return mulFloat(f.val, b)
	}
	if f, ok := b.(*Float); ok {
		return mulFloat(f.val, a)
	}
	return binary(opMul, a, b)
}

// Div returns a / b. Division by a constant zero is a structure error.
func Div(a, b Expr) Expr {
	if f, ok := b.(*Float); ok {
		if f.val == 0 {
			panic(NewStructureError("Div", "division by constant zero"))
		}
		return mulFloat(1/f.val, a)
	}
	if f, ok := a.(*Float); ok && f.val == 0 {
		return NewFloat(0)
	}
	return binary(opDiv, a, b)
}

// Pow returns a ** b. x**0 folds to 1, x**1 folds to x, and 0**0 is a
// structure error.
func Pow(a, b Expr) Expr {
	if fb, ok := b.(*Float); ok {
		if fb.val == 0 {
			if fa, ok := a.(*Float); ok && fa.val == 0 {
				panic(NewStructureError("Pow", "0**0 is undefined"))
			}
			return NewFloat(1)
		}
		if fb.val == 1 {
			return a
		}
		if fa, ok := a.(*Float); ok {
			return NewFloat(math.Pow(fa.val, fb.val))
		}
	}
	return binary(opPow, a, b)
}

func binary(op opCode, a, b Expr) Expr {
	bo := &binOp{op: op, k1: a.Kind(), k2: b.Kind(), a1: a.last(), a2: b.last()}
	ea, aIsE := a.(*Expression)
	eb, bIsE := b.(*Expression)
	switch {
	case aIsE && bIsE:
		return ea.concat(eb).push(bo)
	case aIsE:
		return ea.push(bo)
	case bIsE:
		return eb.push(bo)
	default:
		return newExpression(bo)
	}
}

func unary(fn unFunc, a Expr) Expr {
	u := &unOp{fn: fn, a: a.last()}
	if e, ok := a.(*Expression); ok {
		return e.push(u)
	}
	return newExpression(u)
}

// Abs returns |a|.
func Abs(a Expr) Expr { return unary(fnAbs, a) }

// Sign returns 1 where a >= 0 and -1 elsewhere.
func Sign(a Expr) Expr { return unary(fnSign, a) }

// Exp returns e**a.
func Exp(a Expr) Expr { return unary(fnExp, a) }

// Log returns the natural logarithm of a.
func Log(a Expr) Expr { return unary(fnLog, a) }

// Sin returns sin(a).
func Sin(a Expr) Expr { return unary(fnSin, a) }

// Cos returns cos(a).
func Cos(a Expr) Expr { return unary(fnCos, a) }

// Tan returns tan(a).
func Tan(a Expr) Expr { return unary(fnTan, a) }

// Asin returns arcsin(a).
func Asin(a Expr) Expr { return unary(fnAsin, a) }

// Acos returns arccos(a).
func Acos(a Expr) Expr { return unary(fnAcos, a) }

// Atan returns arctan(a).
func Atan(a Expr) Expr { return unary(fnAtan, a) }
