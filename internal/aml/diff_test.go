package aml

import (
	"math"
	"testing"
)

// Symbolic derivatives must agree with the forward-mode sweeps at arbitrary
// points.
func TestDiffAgreesWithAD(t *testing.T) {
	x := NewVar(1.3)
	y := NewVar(0.7)

	tests := []struct {
		name string
		expr Expr
	}{
		{"affine", Sub(Add(Mul(NewFloat(3), x), y), NewFloat(2))},
		{"product", Mul(x, y)},
		{"quotient", Div(x, y)},
		{"power const exponent", Pow(x, NewFloat(3))},
		{"power var exponent", Pow(x, y)},
		{"rosenbrock term", Mul(NewFloat(100), Pow(Sub(y, Pow(x, NewFloat(2))), NewFloat(2)))},
		{"exp", Exp(Mul(x, y))},
		{"log", Log(Add(x, y))},
		{"abs", Abs(Sub(x, y))},
		{"trig", Mul(Sin(x), Cos(y))},
		{"atan", Atan(Mul(x, y))},
		{"asin", Asin(Div(y, NewFloat(4)))},
	}

	points := [][2]float64{{1.3, 0.7}, {0.4, 1.9}, {2.2, 0.3}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range []*Var{x, y} {
				d := Diff(tt.expr, v)
				for _, pt := range points {
					x.SetValue(pt[0])
					y.SetValue(pt[1])
					want := tt.expr.AD(v, true)
					got := d.Evaluate()
					if math.Abs(got-want) > 1e-12*math.Max(1, math.Abs(want)) {
						t.Errorf("at %v: Diff = %v, AD = %v", pt, got, want)
					}
				}
			}
			x.SetValue(1.3)
			y.SetValue(0.7)
		})
	}
}

// Differentiating with respect to an absent variable folds to zero.
func TestDiffAbsentVariable(t *testing.T) {
	x := NewVar(2)
	z := NewVar(5)

	d := Diff(Pow(x, NewFloat(2)), z)
	f, ok := d.(*Float)
	if !ok {
		t.Fatalf("expected Float(0), got %T", d)
	}
	if f.Value() != 0 {
		t.Errorf("expected 0, got %v", f.Value())
	}
}

// Diff must not disturb the expression it differentiates.
func TestDiffLeavesSourceIntact(t *testing.T) {
	x := NewVar(3)
	y := NewVar(4)

	e := Add(Pow(x, NewFloat(2)), Mul(x, y))
	before := e.Evaluate()
	_ = Diff(e, x)
	_ = Diff(e, y)
	if after := e.Evaluate(); after != before {
		t.Errorf("source expression changed: %v -> %v", before, after)
	}
	if got := e.AD(x, true); got != 2*3+4 {
		t.Errorf("dE/dx = %v, want 10", got)
	}
}

func TestCompileRPNLeafIndices(t *testing.T) {
	x := NewVar(2)
	y := NewVar(3)

	var leaves []Leaf
	ndx := make(map[Leaf]int)
	index := func(l Leaf) int {
		if i, ok := ndx[l]; ok {
			return i
		}
		i := len(leaves)
		leaves = append(leaves, l)
		ndx[l] = i
		return i
	}

	// (x*y) + x: the shared leaf x appears once in the table.
	code := CompileRPN(Add(Mul(x, y), x), index)
	if len(leaves) != 2 {
		t.Fatalf("expected 2 leaves, got %d", len(leaves))
	}

	// Execute by hand to check the program shape.
	stack := make([]float64, len(code))
	sp := 0
	for _, c := range code {
		switch {
		case c >= 0:
			stack[sp] = leaves[c].Value()
			sp++
		case c == OpAdd:
			sp--
			stack[sp-1] += stack[sp]
		case c == OpMul:
			sp--
			stack[sp-1] *= stack[sp]
		default:
			t.Fatalf("unexpected opcode %d", c)
		}
	}
	if sp != 1 || stack[0] != 8 {
		t.Errorf("program computed %v (sp=%d), want 8", stack[0], sp)
	}
}
