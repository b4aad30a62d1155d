package aml

import (
	"math"
	"testing"
)

func TestConstraintBounds(t *testing.T) {
	x := NewVar(1)
	y := NewVar(2)

	eq := NewConstraint(Mul(x, y), 0.5, 0.5)
	lb, ub := eq.Bounds()
	if lb != ub {
		t.Errorf("expected an equality, got bounds (%v, %v)", lb, ub)
	}

	rng := NewConstraint(Add(x, y), -Unbounded, 1)
	lb, ub = rng.Bounds()
	if lb != -1e20 || ub != 1 {
		t.Errorf("expected (-1e20, 1), got (%v, %v)", lb, ub)
	}
}

func TestConstraintEvaluateAndAD(t *testing.T) {
	x := NewVar(3)
	y := NewVar(4)

	c := NewConstraint(Mul(x, y), 0.5, 0.5)
	if got := c.Evaluate(); got != 12 {
		t.Fatalf("expected 12, got %v", got)
	}
	if got := c.Value(); got != 12 {
		t.Fatalf("cached value = %v, want 12", got)
	}
	if got := c.AD(x, false); got != 4 {
		t.Errorf("dc/dx = %v, want 4", got)
	}
	if got := c.AD2(x, y, false); got != 1 {
		t.Errorf("d2c/dxdy = %v, want 1", got)
	}
}

func TestConditionalBranchSelection(t *testing.T) {
	x := NewVar(0)
	y := NewVar(3)

	cc := NewConditionalConstraint(0, 0)
	cc.AddCondition(Sub(x, NewFloat(1)), Pow(x, NewFloat(2)))
	cc.AddFinalExpr(Pow(y, NewFloat(2)))

	// x - 1 <= 0 selects the first branch.
	x.SetValue(0)
	if got := cc.Evaluate(); got != 0 {
		t.Errorf("expected branch 0 value 0, got %v", got)
	}
	if got := cc.AD(x, true); got != 0 {
		t.Errorf("expected d(x^2)/dx = 0 at x=0, got %v", got)
	}
	if got := cc.AD2(x, x, true); got != 2 {
		t.Errorf("expected curvature 2 on the active branch, got %v", got)
	}

	// x - 1 > 0 falls through to the else branch.
	x.SetValue(2)
	if got := cc.Evaluate(); got != 9 {
		t.Errorf("expected else branch value 9, got %v", got)
	}
	if got := cc.AD(y, true); got != 6 {
		t.Errorf("expected d(y^2)/dy = 6, got %v", got)
	}
	if got := cc.AD2(x, x, true); got != 0 {
		t.Errorf("expected zero curvature from the else branch, got %v", got)
	}
}

// The sparsity prediction is the union across branches, so the pattern does
// not move when the active branch switches.
func TestConditionalHasAD2StableAcrossBranches(t *testing.T) {
	x := NewVar(0)
	y := NewVar(3)

	cc := NewConditionalConstraint(0, 0)
	cc.AddCondition(Sub(x, NewFloat(1)), Pow(x, NewFloat(2)))
	cc.AddFinalExpr(Pow(y, NewFloat(2)))

	for _, xv := range []float64{0, 2} {
		x.SetValue(xv)
		if !cc.HasAD2(x, x) {
			t.Errorf("at x=%v: HasAD2(x,x) = false, want true", xv)
		}
		if !cc.HasAD2(y, y) {
			t.Errorf("at x=%v: HasAD2(y,y) = false, want true", xv)
		}
		if cc.HasAD2(x, y) {
			t.Errorf("at x=%v: HasAD2(x,y) = true, want false", xv)
		}
	}
}

func TestConditionalVarsUnion(t *testing.T) {
	x := NewVar(0)
	y := NewVar(1)

	cc := NewConditionalConstraint(0, 0)
	cc.AddCondition(Sub(x, NewFloat(1)), Pow(x, NewFloat(2)))
	cc.AddFinalExpr(Pow(y, NewFloat(2)))

	vars := cc.Vars()
	if len(vars) != 2 || vars[0] != x || vars[1] != y {
		t.Errorf("expected [x y], got %v", vars)
	}
}

func TestConditionalPrint(t *testing.T) {
	x := NewVar(0)
	x.Name = "x"
	y := NewVar(1)
	y.Name = "y"

	cc := NewConditionalConstraint(0, 0)
	cc.AddCondition(Sub(x, NewFloat(1)), Pow(x, NewFloat(2)))
	cc.AddFinalExpr(Pow(y, NewFloat(2)))

	want := "if (x - 1) <= 0:\n\t(x**2)\nelse: \n\t(y**2)\n"
	if got := cc.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestObjectiveValueCache(t *testing.T) {
	x := NewVar(2)
	o := NewObjective(Pow(x, NewFloat(2)))

	if got := o.Evaluate(); got != 4 {
		t.Fatalf("expected 4, got %v", got)
	}
	x.SetValue(3)
	// Value reads the cache; Evaluate refreshes it.
	if got := o.Value(); got != 4 {
		t.Errorf("expected cached 4, got %v", got)
	}
	if got := o.Evaluate(); math.Abs(got-9) > 1e-15 {
		t.Errorf("expected 9, got %v", got)
	}
}
