package aml

// summation is a first-class n-ary affine combination node:
//
//	value = constant + sum_i coeffs[i] * children[i]
//
// The additive operators maintain flat affine layers through this node
// instead of building chains of binary adds. The sparsity map records, for
// each variable, the ordered child indices whose subgraphs depend on it, so
// derivative sweeps touch only dependent children.
type summation struct {
	children []node
	coeffs   []float64
	constant float64

	sparsity map[*Var][]int
	varSeq   []*Var

	value float64
	derN1 float64
	derN2 float64
	der2  float64

	hasN1 bool
	hasN2 bool
	has2  bool
}

func newSummation() *summation {
	return &summation{sparsity: make(map[*Var][]int)}
}

// appendChild adds a scaled term. childVars is the variable set of the
// child's subgraph, used to extend the sparsity lists.
func (s *summation) appendChild(child node, coeff float64, childVars []*Var) {
	ndx := len(s.children)
	s.children = append(s.children, child)
	s.coeffs = append(s.coeffs, coeff)
	for _, v := range childVars {
		if _, ok := s.sparsity[v]; !ok {
			s.varSeq = append(s.varSeq, v)
		}
		s.sparsity[v] = append(s.sparsity[v], ndx)
	}
}

// merge concatenates another summation's terms, scaling them by sign, and
// adds the constants.
func (s *summation) merge(o *summation, sign float64) {
	offset := len(s.children)
	s.children = append(s.children, o.children...)
	for _, c := range o.coeffs {
		s.coeffs = append(s.coeffs, sign*c)
	}
	s.constant += sign * o.constant
	for _, v := range o.varSeq {
		if _, ok := s.sparsity[v]; !ok {
			s.varSeq = append(s.varSeq, v)
		}
		for _, ndx := range o.sparsity[v] {
			s.sparsity[v] = append(s.sparsity[v], ndx+offset)
		}
	}
}

// scale multiplies every coefficient and the constant by c.
func (s *summation) scale(c float64) {
	for i := range s.coeffs {
		s.coeffs[i] *= c
	}
	s.constant *= c
}

// clone deep-copies the summation's own tables. Child nodes are shared.
func (s *summation) clone() *summation {
	n := &summation{
		children: append([]node(nil), s.children...),
		coeffs:   append([]float64(nil), s.coeffs...),
		constant: s.constant,
		sparsity: make(map[*Var][]int, len(s.sparsity)),
		varSeq:   append([]*Var(nil), s.varSeq...),
	}
	for v, ndxs := range s.sparsity {
		n.sparsity[v] = append([]int(nil), ndxs...)
	}
	return n
}

func (s *summation) nodeValue() float64 { return s.value }

func (s *summation) evaluate() {
	val := s.constant
	for i, ch := range s.children {
		val += s.coeffs[i] * ch.nodeValue()
	}
	s.value = val
}

func (s *summation) ad(v *Var) {
	der := 0.0
	for _, i := range s.sparsity[v] {
		der += s.coeffs[i] * nodeD1(s.children[i], v)
	}
	s.derN1 = der
}

func (s *summation) ad2(v1, v2 *Var) {
	d1 := 0.0
	d2 := 0.0
	dd := 0.0
	for _, i := range s.sparsity[v1] {
		d1 += s.coeffs[i] * nodeD1(s.children[i], v1)
		dd += s.coeffs[i] * nodeDD(s.children[i])
	}
	for _, i := range s.sparsity[v2] {
		d2 += s.coeffs[i] * nodeD2(s.children[i], v2)
	}
	s.derN1 = d1
	s.derN2 = d2
	s.der2 = dd
}

func (s *summation) sweepHas(v *Var) {
	s.hasN1 = false
	for _, i := range s.sparsity[v] {
		if nodeHas1(s.children[i], v) {
			s.hasN1 = true
			return
		}
	}
}

func (s *summation) sweepHas2(v1, v2 *Var) {
	s.hasN1 = false
	s.has2 = false
	for _, i := range s.sparsity[v1] {
		if nodeHas1(s.children[i], v1) {
			s.hasN1 = true
		}
		if nodeHasDD(s.children[i]) {
			s.has2 = true
		}
	}
	s.hasN2 = false
	for _, i := range s.sparsity[v2] {
		if nodeHas2(s.children[i], v2) {
			s.hasN2 = true
			return
		}
	}
}
