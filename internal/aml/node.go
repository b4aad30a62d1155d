package aml

import "math"

// node is an element of the expression DAG: a leaf or an operator. Operator
// nodes carry scratch fields for the forward value and for the first and
// second partials of the current AD sweep, plus boolean shadows of the same
// recursions used for sparsity prediction.
type node interface {
	nodeValue() float64
}

func (v *Var) nodeValue() float64   { return v.val }
func (p *Param) nodeValue() float64 { return p.val }
func (f *Float) nodeValue() float64 { return f.val }

// operator is a node with forward and derivative sweep steps. The sweeps are
// driven by Expression in topological order, so an operator may read its
// children's scratch fields freely.
type operator interface {
	node
	evaluate()
	ad(v *Var)
	ad2(v1, v2 *Var)
	sweepHas(v *Var)
	sweepHas2(v1, v2 *Var)
}

// nodeD1 reads a child's first partial with respect to v mid-sweep. Leaves
// compute it directly; operators return the scratch written by ad or ad2.
func nodeD1(n node, v *Var) float64 {
	switch t := n.(type) {
	case *Var:
		if t == v {
			return 1
		}
		return 0
	case *Param, *Float:
		return 0
	case *binOp:
		return t.derN1
	case *unOp:
		return t.derN1
	case *summation:
		return t.derN1
	}
	return 0
}

// nodeD2 reads a child's first partial with respect to the second query
// variable of an ad2 sweep.
func nodeD2(n node, v *Var) float64 {
	switch t := n.(type) {
	case *Var:
		if t == v {
			return 1
		}
		return 0
	case *Param, *Float:
		return 0
	case *binOp:
		return t.derN2
	case *unOp:
		return t.derN2
	case *summation:
		return t.derN2
	}
	return 0
}

// nodeDD reads a child's second partial. Leaves have none.
func nodeDD(n node) float64 {
	switch t := n.(type) {
	case *binOp:
		return t.der2
	case *unOp:
		return t.der2
	case *summation:
		return t.der2
	}
	return 0
}

// nodeHas1 is the boolean shadow of nodeD1.
func nodeHas1(n node, v *Var) bool {
	switch t := n.(type) {
	case *Var:
		return t == v
	case *Param, *Float:
		return false
	case *binOp:
		return t.hasN1
	case *unOp:
		return t.hasN1
	case *summation:
		return t.hasN1
	}
	return false
}

// nodeHas2 is the boolean shadow of nodeD2.
func nodeHas2(n node, v *Var) bool {
	switch t := n.(type) {
	case *Var:
		return t == v
	case *Param, *Float:
		return false
	case *binOp:
		return t.hasN2
	case *unOp:
		return t.hasN2
	case *summation:
		return t.hasN2
	}
	return false
}

// nodeHasDD is the boolean shadow of nodeDD.
func nodeHasDD(n node) bool {
	switch t := n.(type) {
	case *binOp:
		return t.has2
	case *unOp:
		return t.has2
	case *summation:
		return t.has2
	}
	return false
}

// opCode selects the binary operation of a binOp. Additive operations never
// appear here: they are routed through the summation builder.
type opCode uint8

const (
	opMul opCode = iota
	opDiv
	opPow
)

// constKind reports whether an operand kind is constant under
// differentiation.
func constKind(k Kind) bool { return k == KindParam || k == KindFloat }

// binOp is a binary operator node tagged with the pair kind of its operands.
// The tag selects the closed-form derivative formula: when one side is a
// Param or Float the formula collapses, and for Pow with a constant exponent
// the polynomial form must be used so that negative bases stay valid.
type binOp struct {
	op     opCode
	k1, k2 Kind
	a1, a2 node

	value float64
	derN1 float64
	derN2 float64
	der2  float64

	hasN1 bool
	hasN2 bool
	has2  bool
}

func (o *binOp) nodeValue() float64 { return o.value }

func (o *binOp) evaluate() {
	a := o.a1.nodeValue()
	b := o.a2.nodeValue()
	switch o.op {
	case opMul:
		o.value = a * b
	case opDiv:
		o.value = a / b
	case opPow:
		o.value = math.Pow(a, b)
	}
}

func (o *binOp) ad(v *Var) {
	a := o.a1.nodeValue()
	b := o.a2.nodeValue()
	switch o.op {
	case opMul:
		switch {
		case constKind(o.k1):
			o.derN1 = a * nodeD1(o.a2, v)
		case constKind(o.k2):
			o.derN1 = nodeD1(o.a1, v) * b
		default:
			o.derN1 = nodeD1(o.a1, v)*b + a*nodeD1(o.a2, v)
		}
	case opDiv:
		switch {
		case constKind(o.k2):
			o.derN1 = nodeD1(o.a1, v) / b
		case constKind(o.k1):
			o.derN1 = -a * nodeD1(o.a2, v) / (b * b)
		default:
			o.derN1 = (nodeD1(o.a1, v)*b - a*nodeD1(o.a2, v)) / (b * b)
		}
	case opPow:
		switch {
		case constKind(o.k2):
			o.derN1 = b * math.Pow(a, b-1) * nodeD1(o.a1, v)
		case constKind(o.k1):
			o.derN1 = o.value * math.Log(a) * nodeD1(o.a2, v)
		default:
			o.derN1 = o.value * (nodeD1(o.a2, v)*math.Log(a) + b*nodeD1(o.a1, v)/a)
		}
	}
}

func (o *binOp) ad2(v1, v2 *Var) {
	a := o.a1.nodeValue()
	b := o.a2.nodeValue()
	da1 := nodeD1(o.a1, v1)
	da2 := nodeD2(o.a1, v2)
	db1 := nodeD1(o.a2, v1)
	db2 := nodeD2(o.a2, v2)
	dda := nodeDD(o.a1)
	ddb := nodeDD(o.a2)
	switch o.op {
	case opMul:
		o.derN1 = da1*b + a*db1
		o.derN2 = da2*b + a*db2
		o.der2 = dda*b + da1*db2 + da2*db1 + a*ddb
	case opDiv:
		b2 := b * b
		o.derN1 = (da1*b - a*db1) / b2
		o.derN2 = (da2*b - a*db2) / b2
		o.der2 = dda/b - da1*db2/b2 - da2*db1/b2 - a*ddb/b2 + 2*a*db1*db2/(b2*b)
	case opPow:
		switch {
		case constKind(o.k2):
			o.derN1 = b * math.Pow(a, b-1) * da1
			o.derN2 = b * math.Pow(a, b-1) * da2
			o.der2 = b*(b-1)*math.Pow(a, b-2)*da1*da2 + b*math.Pow(a, b-1)*dda
		case constKind(o.k1):
			u := o.value
			l := math.Log(a)
			o.derN1 = u * l * db1
			o.derN2 = u * l * db2
			o.der2 = u*l*l*db1*db2 + u*l*ddb
		default:
			u := o.value
			l := math.Log(a)
			o.derN1 = u * (db1*l + b*da1/a)
			o.derN2 = u * (db2*l + b*da2/a)
			o.der2 = o.derN2*(db1*l+b*da1/a) +
				u*(ddb*l+db1*da2/a+db2*da1/a+b*dda/a-b*da1*da2/(a*a))
		}
	}
}

func (o *binOp) sweepHas(v *Var) {
	switch o.op {
	case opMul, opDiv:
		o.hasN1 = nodeHas1(o.a1, v) || nodeHas1(o.a2, v)
	case opPow:
		switch {
		case constKind(o.k2):
			o.hasN1 = nodeHas1(o.a1, v)
		case constKind(o.k1):
			o.hasN1 = nodeHas1(o.a2, v)
		default:
			o.hasN1 = nodeHas1(o.a1, v) || nodeHas1(o.a2, v)
		}
	}
}

func (o *binOp) sweepHas2(v1, v2 *Var) {
	ha1 := nodeHas1(o.a1, v1)
	ha2 := nodeHas2(o.a1, v2)
	hb1 := nodeHas1(o.a2, v1)
	hb2 := nodeHas2(o.a2, v2)
	hda := nodeHasDD(o.a1)
	hdb := nodeHasDD(o.a2)
	switch o.op {
	case opMul:
		o.hasN1 = ha1 || hb1
		o.hasN2 = ha2 || hb2
		o.has2 = hda || (ha1 && hb2) || (ha2 && hb1) || hdb
	case opDiv:
		o.hasN1 = ha1 || hb1
		o.hasN2 = ha2 || hb2
		o.has2 = hda || (ha1 && hb2) || (ha2 && hb1) || hdb || (hb1 && hb2)
	case opPow:
		switch {
		case constKind(o.k2):
			o.hasN1 = ha1
			o.hasN2 = ha2
			o.has2 = (ha1 && ha2) || hda
		case constKind(o.k1):
			o.hasN1 = hb1
			o.hasN2 = hb2
			o.has2 = (hb1 && hb2) || hdb
		default:
			o.hasN1 = ha1 || hb1
			o.hasN2 = ha2 || hb2
			o.has2 = (ha1 && ha2) || hda || (hb1 && hb2) || hdb ||
				(ha1 && hb2) || (ha2 && hb1)
		}
	}
}

// unFunc selects the unary function of a unOp. Negation is not here: it is
// expressed as a single-child summation with coefficient -1.
type unFunc uint8

const (
	fnAbs unFunc = iota
	fnSign
	fnExp
	fnLog
	fnSin
	fnCos
	fnTan
	fnAsin
	fnAcos
	fnAtan
)

var unFuncNames = [...]string{
	fnAbs:  "abs",
	fnSign: "sign",
	fnExp:  "exp",
	fnLog:  "log",
	fnSin:  "sin",
	fnCos:  "cos",
	fnTan:  "tan",
	fnAsin: "asin",
	fnAcos: "acos",
	fnAtan: "atan",
}

// unOp is a unary function node.
type unOp struct {
	fn unFunc
	a  node

	value float64
	derN1 float64
	derN2 float64
	der2  float64

	hasN1 bool
	hasN2 bool
	has2  bool
}

func (o *unOp) nodeValue() float64 { return o.value }

func signOf(a float64) float64 {
	if a >= 0 {
		return 1
	}
	return -1
}

func (o *unOp) evaluate() {
	a := o.a.nodeValue()
	switch o.fn {
	case fnAbs:
		o.value = math.Abs(a)
	case fnSign:
		o.value = signOf(a)
	case fnExp:
		o.value = math.Exp(a)
	case fnLog:
		o.value = math.Log(a)
	case fnSin:
		o.value = math.Sin(a)
	case fnCos:
		o.value = math.Cos(a)
	case fnTan:
		o.value = math.Tan(a)
	case fnAsin:
		o.value = math.Asin(a)
	case fnAcos:
		o.value = math.Acos(a)
	case fnAtan:
		o.value = math.Atan(a)
	}
}

// d1 returns the first derivative of the function at a. The forward value
// must already be current.
func (o *unOp) d1(a float64) float64 {
	switch o.fn {
	case fnAbs:
		return signOf(a)
	case fnSign:
		return 0
	case fnExp:
		return o.value
	case fnLog:
		return 1 / a
	case fnSin:
		return math.Cos(a)
	case fnCos:
		return -math.Sin(a)
	case fnTan:
		return 1 + o.value*o.value
	case fnAsin:
		return 1 / math.Sqrt(1-a*a)
	case fnAcos:
		return -1 / math.Sqrt(1-a*a)
	case fnAtan:
		return 1 / (1 + a*a)
	}
	return 0
}

// d2 returns the second derivative of the function at a.
func (o *unOp) d2(a float64) float64 {
	switch o.fn {
	case fnAbs, fnSign:
		return 0
	case fnExp:
		return o.value
	case fnLog:
		return -1 / (a * a)
	case fnSin:
		return -math.Sin(a)
	case fnCos:
		return -math.Cos(a)
	case fnTan:
		t := o.value
		return 2 * t * (1 + t*t)
	case fnAsin:
		q := 1 - a*a
		return a / (q * math.Sqrt(q))
	case fnAcos:
		q := 1 - a*a
		return -a / (q * math.Sqrt(q))
	case fnAtan:
		q := 1 + a*a
		return -2 * a / (q * q)
	}
	return 0
}

func (o *unOp) ad(v *Var) {
	o.derN1 = o.d1(o.a.nodeValue()) * nodeD1(o.a, v)
}

func (o *unOp) ad2(v1, v2 *Var) {
	a := o.a.nodeValue()
	da1 := nodeD1(o.a, v1)
	da2 := nodeD2(o.a, v2)
	g1 := o.d1(a)
	o.derN1 = g1 * da1
	o.derN2 = g1 * da2
	o.der2 = o.d2(a)*da1*da2 + g1*nodeDD(o.a)
}

func (o *unOp) sweepHas(v *Var) {
	if o.fn == fnSign {
		o.hasN1 = false
		return
	}
	o.hasN1 = nodeHas1(o.a, v)
}

func (o *unOp) sweepHas2(v1, v2 *Var) {
	if o.fn == fnSign {
		o.hasN1 = false
		o.hasN2 = false
		o.has2 = false
		return
	}
	ha1 := nodeHas1(o.a, v1)
	ha2 := nodeHas2(o.a, v2)
	o.hasN1 = ha1
	o.hasN2 = ha2
	if o.fn == fnAbs {
		// Second derivative of abs vanishes away from the kink.
		o.has2 = nodeHasDD(o.a)
		return
	}
	o.has2 = (ha1 && ha2) || nodeHasDD(o.a)
}
