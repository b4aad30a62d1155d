package aml

// Diff builds the symbolic partial derivative of e with respect to v as a
// new expression, using the same operator constructors (and therefore the
// same folding rules) as user-built expressions. Non-dependent subtrees fold
// to Float(0) and disappear from the result. The compiled evaluator uses
// Diff to produce per-variable Jacobian programs.
func Diff(e Expr, v *Var) Expr {
	ex, ok := e.(*Expression)
	if !ok {
		if vv, isVar := e.(*Var); isVar && vv == v {
			return NewFloat(1)
		}
		return NewFloat(0)
	}

	// A node's sub-DAG is exactly a prefix of the topologically ordered
	// operator list, so an interior node lifts to an expression sharing the
	// list with a shorter prefix. Lifted prefixes are never exclusively
	// owned, so the builders clone before mutating them.
	pos := make(map[node]int, ex.n)
	for i, op := range ex.prefix() {
		pos[op] = i
	}
	lift := func(n node) Expr {
		if l, isLeaf := n.(Leaf); isLeaf {
			return l
		}
		return &Expression{shared: ex.shared, n: pos[n] + 1}
	}

	// scaled multiplies a derivative by a coefficient without ever mutating
	// the operand in place: memoized derivatives are shared between parents
	// of a common sub-DAG, so the summation builder's in-place paths must
	// not see them as exclusively owned.
	scaled := func(c float64, e Expr) Expr {
		if f, ok := e.(*Float); ok {
			return NewFloat(c * f.val)
		}
		s := newSummation()
		s.appendChild(e.last(), c, e.Vars())
		if ex, ok := e.(*Expression); ok {
			return ex.push(s)
		}
		return newExpression(s)
	}

	memo := make(map[node]Expr)
	var d func(n node) Expr
	d = func(n node) Expr {
		if r, ok := memo[n]; ok {
			return r
		}
		var r Expr
		switch t := n.(type) {
		case *Var:
			if t == v {
				r = NewFloat(1)
			} else {
				r = NewFloat(0)
			}
		case *Param, *Float:
			r = NewFloat(0)
		case *summation:
			acc := Expr(NewFloat(0))
			for _, i := range t.sparsity[v] {
				acc = Add(acc, scaled(t.coeffs[i], d(t.children[i])))
			}
			r = acc
		case *binOp:
			aE := lift(t.a1)
			bE := lift(t.a2)
			da := d(t.a1)
			db := d(t.a2)
			switch t.op {
			case opMul:
				r = Add(Mul(da, bE), Mul(aE, db))
			case opDiv:
				r = Sub(Div(da, bE), Div(Mul(aE, db), Mul(bE, bE)))
			case opPow:
				switch {
				case constKind(t.k2):
					r = Mul(Mul(bE, Pow(aE, Sub(bE, NewFloat(1)))), da)
				case constKind(t.k1):
					r = Mul(Mul(Pow(aE, bE), Log(aE)), db)
				default:
					r = Mul(Pow(aE, bE),
						Add(Mul(db, Log(aE)), Div(Mul(bE, da), aE)))
				}
			}
		case *unOp:
			aE := lift(t.a)
			da := d(t.a)
			switch t.fn {
			case fnAbs:
				r = Mul(Sign(aE), da)
			case fnSign:
				r = NewFloat(0)
			case fnExp:
				r = Mul(Exp(aE), da)
			case fnLog:
				r = Div(da, aE)
			case fnSin:
				r = Mul(Cos(aE), da)
			case fnCos:
				r = Neg(Mul(Sin(aE), da))
			case fnTan:
				r = Div(da, Mul(Cos(aE), Cos(aE)))
			case fnAsin:
				r = Div(da, Pow(Sub(NewFloat(1), Mul(aE, aE)), NewFloat(0.5)))
			case fnAcos:
				r = Neg(Div(da, Pow(Sub(NewFloat(1), Mul(aE, aE)), NewFloat(0.5))))
			case fnAtan:
				r = Div(da, Add(NewFloat(1), Mul(aE, aE)))
			}
		}
		memo[n] = r
		return r
	}
	return d(ex.last())
}
