package solver

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturnStrings(t *testing.T) {
	tests := []struct {
		ret  Return
		want string
	}{
		{Success, "SUCCESS"},
		{MaxIterExceeded, "MAXITER_EXCEEDED"},
		{CPUTimeExceeded, "CPUTIME_EXCEEDED"},
		{StopAtTinyStep, "STOP_AT_TINY_STEP"},
		{StopAtAcceptablePoint, "STOP_AT_ACCEPTABLE_POINT"},
		{LocalInfeasibility, "LOCAL_INFEASIBILITY"},
		{UserRequestedStop, "USER_REQUESTED_STOP"},
		{DivergingIterates, "DIVERGING_ITERATES"},
		{RestorationFailure, "RESTORATION_FAILURE"},
		{ErrorInStepComputation, "ERROR_IN_STEP_COMPUTATION"},
		{InvalidNumberDetected, "INVALID_NUMBER_DETECTED"},
		{InternalError, "INTERNAL_ERROR"},
		{Return(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.ret.String(); got != tt.want {
			t.Errorf("Return(%d).String() = %q, want %q", tt.ret, got, tt.want)
		}
	}
}

// quadProblem is a hand-written callback problem:
//
//	minimize (x0-a)^2 + (x1-b)^2 subject to optional bounds and an
//	optional equality x0 + x1 = c.
type quadProblem struct {
	a, b float64

	withEq bool
	c      float64

	xL, xU []float64
	x0     []float64

	status Return
	finalX []float64
}

func (p *quadProblem) Info() Info {
	m, nnz := 0, 0
	if p.withEq {
		m, nnz = 1, 2
	}
	return Info{N: 2, M: m, NNZJac: nnz, NNZHess: 2, IndexStyle: CStyle}
}

func (p *quadProblem) BoundsInfo(xL, xU, gL, gU []float64) bool {
	copy(xL, p.xL)
	copy(xU, p.xU)
	if p.withEq {
		gL[0], gU[0] = p.c, p.c
	}
	return true
}

func (p *quadProblem) StartingPoint(initX bool, x []float64, initZ bool, zL, zU []float64,
	initLambda bool, lambda []float64) bool {
	if initX {
		copy(x, p.x0)
	}
	return true
}

func (p *quadProblem) EvalF(x []float64, newX bool) (float64, bool) {
	dx, dy := x[0]-p.a, x[1]-p.b
	return dx*dx + dy*dy, true
}

func (p *quadProblem) EvalGradF(x []float64, newX bool, gradF []float64) bool {
	gradF[0] = 2 * (x[0] - p.a)
	gradF[1] = 2 * (x[1] - p.b)
	return true
}

func (p *quadProblem) EvalG(x []float64, newX bool, g []float64) bool {
	if p.withEq {
		g[0] = x[0] + x[1]
	}
	return true
}

func (p *quadProblem) EvalJacG(x []float64, newX bool, iRow, jCol []int, values []float64) bool {
	if !p.withEq {
		return true
	}
	if values == nil {
		iRow[0], jCol[0] = 0, 0
		iRow[1], jCol[1] = 0, 1
		return true
	}
	values[0], values[1] = 1, 1
	return true
}

func (p *quadProblem) EvalH(x []float64, newX bool, objFactor float64, lambda []float64,
	newLambda bool, iRow, jCol []int, values []float64) bool {
	if values == nil {
		iRow[0], jCol[0] = 0, 0
		iRow[1], jCol[1] = 1, 1
		return true
	}
	values[0], values[1] = 2*objFactor, 2*objFactor
	return true
}

func (p *quadProblem) FinalizeSolution(status Return, x, zL, zU, g, lambda []float64, obj float64) {
	p.status = status
	p.finalX = append([]float64(nil), x...)
}

func free2() ([]float64, []float64) {
	return []float64{-1e20, -1e20}, []float64{1e20, 1e20}
}

func TestUnconstrainedQuadratic(t *testing.T) {
	xL, xU := free2()
	p := &quadProblem{a: 3, b: -2, xL: xL, xU: xU, x0: []float64{0, 0}}

	s := New(Options{}, nil)
	res, err := s.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Success, res.Status)
	assert.InDelta(t, 3, res.X[0], 1e-6)
	assert.InDelta(t, -2, res.X[1], 1e-6)
	assert.Equal(t, Success, p.status, "FinalizeSolution sees the same status")
}

func TestBoundedQuadratic(t *testing.T) {
	// Unconstrained minimum (3, -2) lies outside the box [0,1]x[0,1].
	p := &quadProblem{
		a: 3, b: -2,
		xL: []float64{0, 0}, xU: []float64{1, 1},
		x0: []float64{0.5, 0.5},
	}

	s := New(Options{}, nil)
	res, err := s.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Success, res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-5, "clipped at the upper bound")
	assert.InDelta(t, 0, res.X[1], 1e-5, "clipped at the lower bound")
	// Active bounds carry positive multipliers.
	assert.Greater(t, res.ZU[0], 1e-8)
	assert.Greater(t, res.ZL[1], 1e-8)
}

func TestEqualityConstrainedQuadratic(t *testing.T) {
	// minimize x^2 + y^2 s.t. x + y = 2 has solution (1, 1), lambda = -2.
	xL, xU := free2()
	p := &quadProblem{
		a: 0, b: 0, withEq: true, c: 2,
		xL: xL, xU: xU,
		x0: []float64{3, -1},
	}

	s := New(Options{}, nil)
	res, err := s.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Success, res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-6)
	assert.InDelta(t, 1, res.X[1], 1e-6)
	assert.InDelta(t, 2, res.G[0], 1e-6)
}

func TestRangeConstrainedQuadratic(t *testing.T) {
	// minimize (x-3)^2 + (y+2)^2 s.t. -1 <= x + y <= 0: the unconstrained
	// optimum (3, -2) has x + y = 1 and violates the inequality, so it is
	// active and the solution lands on the upper edge x + y = 0 at (2.5, -2.5).
	xL, xU := free2()
	p := &rangeProblem{
		quadProblem: quadProblem{a: 3, b: -2, xL: xL, xU: xU, x0: []float64{0, 0}},
		gl:          -1, gu: 0,
	}

	s := New(Options{}, nil)
	res, err := s.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Success, res.Status)
	assert.InDelta(t, 2.5, res.X[0], 1e-5)
	assert.InDelta(t, -2.5, res.X[1], 1e-5)
}

// rangeProblem turns quadProblem's equality into a range constraint.
type rangeProblem struct {
	quadProblem
	gl, gu float64
}

func (p *rangeProblem) Info() Info {
	return Info{N: 2, M: 1, NNZJac: 2, NNZHess: 2, IndexStyle: CStyle}
}

func (p *rangeProblem) BoundsInfo(xL, xU, gL, gU []float64) bool {
	copy(xL, p.xL)
	copy(xU, p.xU)
	gL[0], gU[0] = p.gl, p.gu
	return true
}

func (p *rangeProblem) EvalG(x []float64, newX bool, g []float64) bool {
	g[0] = x[0] + x[1]
	return true
}

func (p *rangeProblem) EvalJacG(x []float64, newX bool, iRow, jCol []int, values []float64) bool {
	if values == nil {
		iRow[0], jCol[0] = 0, 0
		iRow[1], jCol[1] = 0, 1
		return true
	}
	values[0], values[1] = 1, 1
	return true
}

// rosenbrockProblem exercises a genuinely nonconvex objective through the
// raw callback contract.
type rosenbrockProblem struct {
	quadProblem
}

func (p *rosenbrockProblem) Info() Info {
	return Info{N: 2, M: 0, NNZJac: 0, NNZHess: 3, IndexStyle: CStyle}
}

func (p *rosenbrockProblem) EvalF(x []float64, newX bool) (float64, bool) {
	t1 := x[1] - x[0]*x[0]
	t2 := 1 - x[0]
	return 100*t1*t1 + t2*t2, true
}

func (p *rosenbrockProblem) EvalGradF(x []float64, newX bool, gradF []float64) bool {
	t1 := x[1] - x[0]*x[0]
	gradF[0] = -400*t1*x[0] - 2*(1-x[0])
	gradF[1] = 200 * t1
	return true
}

func (p *rosenbrockProblem) EvalH(x []float64, newX bool, objFactor float64, lambda []float64,
	newLambda bool, iRow, jCol []int, values []float64) bool {
	if values == nil {
		iRow[0], jCol[0] = 0, 0
		iRow[1], jCol[1] = 1, 0
		iRow[2], jCol[2] = 1, 1
		return true
	}
	values[0] = objFactor * (1200*x[0]*x[0] - 400*x[1] + 2)
	values[1] = objFactor * (-400 * x[0])
	values[2] = objFactor * 200
	return true
}

func TestRosenbrockCallbacks(t *testing.T) {
	xL, xU := free2()
	p := &rosenbrockProblem{quadProblem{xL: xL, xU: xU, x0: []float64{-1.2, 1}}}

	s := New(Options{}, nil)
	res, err := s.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Success, res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-6)
	assert.InDelta(t, 1, res.X[1], 1e-6)
	assert.Less(t, res.Objective, 1e-10)
}

func TestMaxIterations(t *testing.T) {
	xL, xU := free2()
	p := &rosenbrockProblem{quadProblem{xL: xL, xU: xU, x0: []float64{-1.2, 1}}}

	s := New(Options{MaxIterations: 2}, nil)
	res, err := s.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, MaxIterExceeded, res.Status)
	assert.Equal(t, "MAXITER_EXCEEDED", p.status.String())
}

func TestUserRequestedStop(t *testing.T) {
	xL, xU := free2()
	p := &rosenbrockProblem{quadProblem{xL: xL, xU: xU, x0: []float64{-1.2, 1}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(Options{}, nil)
	res, err := s.Solve(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, UserRequestedStop, res.Status)
}

// nanProblem returns NaN from every objective call after the first to
// trigger invalid number detection.
type nanProblem struct {
	quadProblem
	calls int
}

func (p *nanProblem) EvalF(x []float64, newX bool) (float64, bool) {
	p.calls++
	if p.calls > 1 {
		return math.NaN(), true
	}
	return x[0]*x[0] + x[1]*x[1], true
}

func TestInvalidNumberDetected(t *testing.T) {
	xL, xU := free2()
	p := &nanProblem{quadProblem: quadProblem{a: 0, b: 0, xL: xL, xU: xU, x0: []float64{1, 1}}}

	s := New(Options{}, nil)
	res, err := s.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, InvalidNumberDetected, res.Status)
}

func TestCPUTimeExceeded(t *testing.T) {
	xL, xU := free2()
	p := &rosenbrockProblem{quadProblem{xL: xL, xU: xU, x0: []float64{-1.2, 1}}}

	s := New(Options{MaxCPUTime: time.Nanosecond}, nil)
	res, err := s.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, CPUTimeExceeded, res.Status)
}
