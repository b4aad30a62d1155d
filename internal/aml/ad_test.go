package aml

import (
	"math"
	"testing"
)

// numDiff approximates the first partial with central differences, used to
// cross-check the forward-mode sweeps.
func numDiff(e Expr, v *Var) float64 {
	const h = 1e-6
	orig := v.Value()
	v.SetValue(orig + h)
	fp := e.Evaluate()
	v.SetValue(orig - h)
	fm := e.Evaluate()
	v.SetValue(orig)
	e.Evaluate()
	return (fp - fm) / (2 * h)
}

func numDiff2(e Expr, v1, v2 *Var) float64 {
	const h = 1e-5
	orig := v2.Value()
	v2.SetValue(orig + h)
	dp := e.AD(v1, true)
	v2.SetValue(orig - h)
	dm := e.AD(v1, true)
	v2.SetValue(orig)
	e.Evaluate()
	return (dp - dm) / (2 * h)
}

func TestFirstDerivatives(t *testing.T) {
	x := NewVar(1.3)
	y := NewVar(0.7)
	p := NewParam(2.5)

	tests := []struct {
		name string
		expr Expr
	}{
		{"affine", Sub(Add(Mul(NewFloat(3), x), y), NewFloat(2))},
		{"product", Mul(x, y)},
		{"product with param", Mul(p, x)},
		{"quotient", Div(x, y)},
		{"quotient by param", Div(x, p)},
		{"power const exponent", Pow(x, NewFloat(3))},
		{"power var exponent", Pow(x, y)},
		{"power param base", Pow(p, x)},
		{"nested", Mul(Sub(y, Pow(x, NewFloat(2))), Sub(y, Pow(x, NewFloat(2))))},
		{"exp", Exp(Mul(x, y))},
		{"log", Log(Add(x, y))},
		{"abs", Abs(Sub(x, y))},
		{"sin", Sin(Mul(x, y))},
		{"cos", Cos(x)},
		{"tan", Tan(y)},
		{"asin", Asin(Sub(y, NewFloat(0.2)))},
		{"acos", Acos(Sub(y, NewFloat(0.2)))},
		{"atan", Atan(x)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range []*Var{x, y} {
				want := numDiff(tt.expr, v)
				got := tt.expr.AD(v, true)
				if math.Abs(got-want) > 1e-5*math.Max(1, math.Abs(want)) {
					t.Errorf("AD(%v) = %v, want %v", v.Value(), got, want)
				}
			}
		})
	}
}

func TestSecondDerivatives(t *testing.T) {
	x := NewVar(1.3)
	y := NewVar(0.7)

	tests := []struct {
		name string
		expr Expr
	}{
		{"product", Mul(x, y)},
		{"quotient", Div(x, y)},
		{"power const exponent", Pow(x, NewFloat(3))},
		{"power var exponent", Pow(x, y)},
		{"rosenbrock term", Mul(NewFloat(100), Pow(Sub(y, Pow(x, NewFloat(2))), NewFloat(2)))},
		{"exp product", Exp(Mul(x, y))},
		{"log sum", Log(Add(x, y))},
		{"trig", Mul(Sin(x), Cos(y))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v1 := range []*Var{x, y} {
				for _, v2 := range []*Var{x, y} {
					want := numDiff2(tt.expr, v1, v2)
					got := tt.expr.AD2(v1, v2, true)
					if math.Abs(got-want) > 1e-4*math.Max(1, math.Abs(want)) {
						t.Errorf("AD2(%s,%s) = %v, want %v", v1, v2, got, want)
					}
				}
			}
		})
	}
}

// Second partials must be symmetric in the query pair.
func TestAD2Symmetry(t *testing.T) {
	x := NewVar(0.9)
	y := NewVar(1.7)

	e := Add(Mul(Pow(x, NewFloat(2)), y), Div(y, x))
	d12 := e.AD2(x, y, true)
	d21 := e.AD2(y, x, true)
	if math.Abs(d12-d21) > 1e-12 {
		t.Errorf("AD2(x,y) = %v but AD2(y,x) = %v", d12, d21)
	}
}

// Evaluating twice with unchanged inputs must produce bitwise identical
// values and derivatives.
func TestEvaluationIdempotence(t *testing.T) {
	x := NewVar(1.1)
	y := NewVar(-0.4)

	e := Add(Mul(NewFloat(100), Pow(Sub(y, Pow(x, NewFloat(2))), NewFloat(2))),
		Pow(Sub(NewFloat(1), x), NewFloat(2)))

	v1 := e.Evaluate()
	d1 := e.AD(x, false)
	h1 := e.AD2(x, x, false)
	v2 := e.Evaluate()
	d2 := e.AD(x, false)
	h2 := e.AD2(x, x, false)

	if v1 != v2 || d1 != d2 || h1 != h2 {
		t.Errorf("repeated evaluation changed results: (%v,%v,%v) vs (%v,%v,%v)",
			v1, d1, h1, v2, d2, h2)
	}
}

// A structurally absent dependency implies a zero derivative at every point.
func TestHasADImpliesZero(t *testing.T) {
	x := NewVar(1.5)
	y := NewVar(2.5)
	z := NewVar(3.5)
	p := NewParam(2)

	tests := []struct {
		name string
		expr Expr
		v    *Var
		has  bool
	}{
		{"dependent var", Mul(x, y), x, true},
		{"absent var", Mul(x, y), z, false},
		{"param only", Mul(p, x), x, true},
		{"param is constant", Mul(p, x), z, false},
		{"summation absent", Add(x, y), z, false},
		{"unary dependent", Exp(x), x, true},
		{"sign has no derivative", Sign(x), x, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.expr.HasAD(tt.v); got != tt.has {
				t.Fatalf("HasAD = %v, want %v", got, tt.has)
			}
			if !tt.has {
				if d := tt.expr.AD(tt.v, true); d != 0 {
					t.Errorf("AD = %v for a structurally absent variable", d)
				}
			}
		})
	}
}

func TestHasAD2(t *testing.T) {
	x := NewVar(1.5)
	y := NewVar(2.5)
	z := NewVar(3.5)
	p := NewParam(2)

	tests := []struct {
		name   string
		expr   Expr
		v1, v2 *Var
		want   bool
	}{
		{"linear has no curvature", Add(Mul(NewFloat(3), x), y), x, x, false},
		{"square", Pow(x, NewFloat(2)), x, x, true},
		{"square wrong var", Pow(x, NewFloat(2)), y, y, false},
		{"bilinear cross", Mul(x, y), x, y, true},
		{"bilinear diagonal", Mul(x, y), x, x, false},
		{"param product stays linear", Mul(p, x), x, x, false},
		{"quotient diagonal", Div(x, y), y, y, true},
		{"quotient numerator", Div(x, y), x, x, false},
		{"absent var", Pow(x, NewFloat(2)), z, z, false},
		{"exp", Exp(x), x, x, true},
		{"power var exponent", Pow(x, y), x, y, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.expr.HasAD2(tt.v1, tt.v2); got != tt.want {
				t.Errorf("HasAD2 = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummationSparsityAD(t *testing.T) {
	x := NewVar(2)
	y := NewVar(3)
	z := NewVar(5)

	// 2x + 3(y*z) - 4
	e := Sub(Add(Mul(NewFloat(2), x), Mul(NewFloat(3), Mul(y, z))), NewFloat(4))
	if got := e.Evaluate(); got != 2*2+3*15-4 {
		t.Fatalf("expected %v, got %v", 2*2+3*15-4, got)
	}
	if got := e.AD(x, false); got != 2 {
		t.Errorf("d/dx = %v, want 2", got)
	}
	if got := e.AD(y, false); got != 15 {
		t.Errorf("d/dy = %v, want 15", got)
	}
	if got := e.AD2(y, z, true); got != 3 {
		t.Errorf("d2/dydz = %v, want 3", got)
	}
}
