package solver

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// unboundedThreshold is the bound magnitude at or above which a bound is
// treated as absent.
const unboundedThreshold = 1e19

// Options configures the interior-point solver.
type Options struct {
	// Tolerance is the KKT error below which the solver declares success.
	Tolerance float64
	// AcceptableTolerance is the weaker KKT error that turns a stalled run
	// into STOP_AT_ACCEPTABLE_POINT instead of STOP_AT_TINY_STEP.
	AcceptableTolerance float64
	// MaxIterations bounds the outer iteration count.
	MaxIterations int
	// MaxCPUTime bounds the wall time of a solve. Zero means no limit.
	MaxCPUTime time.Duration
	// MuInit is the initial barrier parameter.
	MuInit float64
}

func (o Options) withDefaults() Options {
	if o.Tolerance == 0 {
		o.Tolerance = 1e-8
	}
	if o.AcceptableTolerance == 0 {
		o.AcceptableTolerance = 1e-6
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = 3000
	}
	if o.MuInit == 0 {
		o.MuInit = 0.1
	}
	return o
}

// Result is the final iterate of a solve. The same data is handed to the
// problem's FinalizeSolution callback.
type Result struct {
	Status     Return
	Iterations int
	Objective  float64
	X          []float64
	ZL         []float64
	ZU         []float64
	G          []float64
	Lambda     []float64
}

// InteriorPoint is a primal-dual interior-point solver for smooth NLPs
// presented through the Problem callback contract. Range and one-sided
// inequality constraints are handled with bounded slacks; the barrier is
// applied to variable and slack bounds and the Newton step is computed from
// the dense condensed KKT system.
type InteriorPoint struct {
	opts   Options
	logger *zap.Logger
	pool   *matrixPool
}

// New creates a solver with the given options. A nil logger disables
// iteration logging.
func New(opts Options, logger *zap.Logger) *InteriorPoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InteriorPoint{
		opts:   opts.withDefaults(),
		logger: logger.Named("interior_point"),
		pool:   newMatrixPool(),
	}
}

// ipState carries the iterate of one solve.
type ipState struct {
	n, m, nu int // variables, constraints, variables + slacks

	slackOf []int // constraint -> slack column in u, -1 for equalities

	uL, uU []float64 // bounds on u, +-Inf when absent
	gL, gU []float64

	u      []float64 // [x; slacks]
	lambda []float64
	zL, zU []float64

	f    float64
	grad []float64 // objective gradient over u (slack entries zero)
	g    []float64 // constraint bodies
	c    []float64 // equality residuals g(x) - s (or - gL)

	jRow, jCol []int
	jVal       []float64
	hRow, hCol []int
	hVal       []float64
}

func (st *ipState) x() []float64 { return st.u[:st.n] }

// residual recomputes c from g and the slack entries of u.
func (st *ipState) residual() {
	for i := 0; i < st.m; i++ {
		if sc := st.slackOf[i]; sc >= 0 {
			st.c[i] = st.g[i] - st.u[sc]
		} else {
			st.c[i] = st.g[i] - st.gL[i]
		}
	}
}

// Solve runs the interior-point iteration. FinalizeSolution is always
// invoked, whatever the termination status, with the last iterate.
func (s *InteriorPoint) Solve(ctx context.Context, p Problem) (*Result, error) {
	start := time.Now()

	info := p.Info()
	st := &ipState{n: info.N, m: info.M}
	n, m := st.n, st.m

	xL := make([]float64, n)
	xU := make([]float64, n)
	st.gL = make([]float64, m)
	st.gU = make([]float64, m)
	if !p.BoundsInfo(xL, xU, st.gL, st.gU) {
		return s.finish(p, st, InternalError, 0)
	}

	// Jacobian and Hessian sparsity patterns.
	st.jRow = make([]int, info.NNZJac)
	st.jCol = make([]int, info.NNZJac)
	st.jVal = make([]float64, info.NNZJac)
	if !p.EvalJacG(nil, false, st.jRow, st.jCol, nil) {
		return s.finish(p, st, InternalError, 0)
	}
	st.hRow = make([]int, info.NNZHess)
	st.hCol = make([]int, info.NNZHess)
	st.hVal = make([]float64, info.NNZHess)
	if !p.EvalH(nil, false, 1, nil, false, st.hRow, st.hCol, nil) {
		return s.finish(p, st, InternalError, 0)
	}

	// Classify constraints: equalities keep no slack; every other row gets
	// a slack bounded by the constraint bounds.
	st.slackOf = make([]int, m)
	st.nu = n
	for i := 0; i < m; i++ {
		if st.gL[i] == st.gU[i] {
			st.slackOf[i] = -1
		} else {
			st.slackOf[i] = st.nu
			st.nu++
		}
	}

	st.uL = make([]float64, st.nu)
	st.uU = make([]float64, st.nu)
	for i := 0; i < n; i++ {
		st.uL[i] = finiteBound(xL[i], math.Inf(-1))
		st.uU[i] = finiteBound(xU[i], math.Inf(1))
	}
	for i := 0; i < m; i++ {
		if sc := st.slackOf[i]; sc >= 0 {
			st.uL[sc] = finiteBound(st.gL[i], math.Inf(-1))
			st.uU[sc] = finiteBound(st.gU[i], math.Inf(1))
		}
	}

	// Starting point.
	st.u = make([]float64, st.nu)
	st.lambda = make([]float64, m)
	st.zL = make([]float64, st.nu)
	st.zU = make([]float64, st.nu)
	zLx := make([]float64, n)
	zUx := make([]float64, n)
	if !p.StartingPoint(true, st.u[:n], true, zLx, zUx, true, st.lambda) {
		return s.finish(p, st, InternalError, 0)
	}

	st.grad = make([]float64, st.nu)
	st.g = make([]float64, m)
	st.c = make([]float64, m)

	mu := s.opts.MuInit

	// Initialize slacks from the constraint bodies at the start point, then
	// push the whole iterate into the strict interior of its bounds.
	if ok := s.evalPoint(p, st, true); !ok {
		return s.finish(p, st, InvalidNumberDetected, 0)
	}
	for i := 0; i < m; i++ {
		if sc := st.slackOf[i]; sc >= 0 {
			st.u[sc] = st.g[i]
		}
	}
	pushToInterior(st.u, st.uL, st.uU)
	for i := 0; i < st.nu; i++ {
		st.zL[i], st.zU[i] = 0, 0
		if i < n {
			st.zL[i], st.zU[i] = zLx[i], zUx[i]
		}
		if !math.IsInf(st.uL[i], -1) && st.zL[i] <= 0 {
			st.zL[i] = mu / (st.u[i] - st.uL[i])
		}
		if !math.IsInf(st.uU[i], 1) && st.zU[i] <= 0 {
			st.zU[i] = mu / (st.uU[i] - st.u[i])
		}
	}

	nu := st.nu
	du := make([]float64, nu)
	dzL := make([]float64, nu)
	dzU := make([]float64, nu)
	dlambda := make([]float64, m)
	penalty := 10.0
	tinySteps := 0

	status := MaxIterExceeded
	iter := 0
loop:
	for ; iter < s.opts.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			status = UserRequestedStop
			break loop
		default:
		}
		if s.opts.MaxCPUTime > 0 && time.Since(start) > s.opts.MaxCPUTime {
			status = CPUTimeExceeded
			break loop
		}

		if ok := s.evalPoint(p, st, true); !ok {
			status = InvalidNumberDetected
			break loop
		}
		if !p.EvalJacG(st.x(), false, nil, nil, st.jVal) ||
			!allFinite(st.jVal) {
			status = InvalidNumberDetected
			break loop
		}
		if !p.EvalH(st.x(), false, 1, st.lambda, true, nil, nil, st.hVal) ||
			!allFinite(st.hVal) {
			status = InvalidNumberDetected
			break loop
		}

		e0, emu := s.kktError(st, 0), s.kktError(st, mu)
		if e0 <= s.opts.Tolerance {
			status = Success
			break loop
		}
		if emu <= 10*mu && mu > s.opts.Tolerance/100 {
			mu = math.Max(s.opts.Tolerance/100,
				math.Min(0.2*mu, math.Pow(mu, 1.5)))
		}

		ok, alphaP := s.step(st, mu, du, dzL, dzU, dlambda, &penalty, p)
		if !ok {
			status = ErrorInStepComputation
			break loop
		}

		s.logger.Debug("iteration",
			zap.Int("iter", iter),
			zap.Float64("objective", st.f),
			zap.Float64("inf_pr", normInf(st.c)),
			zap.Float64("inf_du", e0),
			zap.Float64("mu", mu),
			zap.Float64("alpha", alphaP),
		)

		if alphaP < 1e-12 {
			tinySteps++
			if tinySteps >= 3 {
				switch {
				case e0 <= s.opts.AcceptableTolerance:
					status = StopAtAcceptablePoint
				case normInf(st.c) > s.opts.AcceptableTolerance:
					status = LocalInfeasibility
				default:
					status = StopAtTinyStep
				}
				break loop
			}
		} else {
			tinySteps = 0
		}

		if normInf(st.u) > 1e20 {
			status = DivergingIterates
			break loop
		}
		if !allFinite(st.u) || !allFinite(st.lambda) {
			status = InvalidNumberDetected
			break loop
		}
	}

	return s.finish(p, st, status, iter)
}

// evalPoint refreshes f, grad and g at the current iterate. newX propagates
// the solver's point-change signal to the adapter.
func (s *InteriorPoint) evalPoint(p Problem, st *ipState, newX bool) bool {
	f, ok := p.EvalF(st.x(), newX)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	st.f = f
	gx := st.grad[:st.n]
	if !p.EvalGradF(st.x(), false, gx) || !allFinite(gx) {
		return false
	}
	if st.m > 0 {
		if !p.EvalG(st.x(), false, st.g) || !allFinite(st.g) {
			return false
		}
	}
	st.residual()
	return true
}

// kktError computes the unscaled KKT error (max-norm of the dual, primal and
// complementarity residuals) at the current iterate for barrier parameter mu.
func (s *InteriorPoint) kktError(st *ipState, mu float64) float64 {
	e := 0.0
	// Dual infeasibility: grad + J^T lambda - zL + zU.
	for i := 0; i < st.nu; i++ {
		r := st.grad[i] - st.zL[i] + st.zU[i]
		e = math.Max(e, math.Abs(r+st.jtLambda(i)))
	}
	// Primal infeasibility.
	e = math.Max(e, normInf(st.c))
	// Complementarity.
	for i := 0; i < st.nu; i++ {
		if !math.IsInf(st.uL[i], -1) {
			e = math.Max(e, math.Abs(st.zL[i]*(st.u[i]-st.uL[i])-mu))
		}
		if !math.IsInf(st.uU[i], 1) {
			e = math.Max(e, math.Abs(st.zU[i]*(st.uU[i]-st.u[i])-mu))
		}
	}
	return e
}

// jtLambda returns (J_u^T lambda)_i, including the -1 slack columns.
func (st *ipState) jtLambda(i int) float64 {
	v := 0.0
	for k, col := range st.jCol {
		if col == i {
			v += st.jVal[k] * st.lambda[st.jRow[k]]
		}
	}
	if i >= st.n {
		for row, sc := range st.slackOf {
			if sc == i {
				v -= st.lambda[row]
			}
		}
	}
	return v
}

// step assembles and solves the condensed KKT system, performs the line
// search and updates the iterate. It returns the accepted primal step size.
func (s *InteriorPoint) step(st *ipState, mu float64,
	du, dzL, dzU, dlambda []float64, penalty *float64, p Problem) (bool, float64) {

	n, m, nu := st.n, st.m, st.nu

	// W = hess(L) + barrier diagonal.
	w := s.pool.getSymDense(nu)
	defer s.pool.putSymDense(w)
	for k := range st.hVal {
		r, c := st.hRow[k], st.hCol[k]
		w.SetSym(r, c, w.At(r, c)+st.hVal[k])
	}
	sigma := make([]float64, nu)
	for i := 0; i < nu; i++ {
		if !math.IsInf(st.uL[i], -1) {
			sigma[i] += st.zL[i] / (st.u[i] - st.uL[i])
		}
		if !math.IsInf(st.uU[i], 1) {
			sigma[i] += st.zU[i] / (st.uU[i] - st.u[i])
		}
		w.SetSym(i, i, w.At(i, i)+sigma[i])
	}

	// J_u with slack columns.
	jac := s.pool.getDense(maxInt(m, 1), nu)
	defer s.pool.putDense(jac)
	for k := range st.jVal {
		jac.Set(st.jRow[k], st.jCol[k], st.jVal[k])
	}
	for i := 0; i < m; i++ {
		if sc := st.slackOf[i]; sc >= 0 {
			jac.Set(i, sc, -1)
		}
	}

	// RHS of the condensed system.
	rhs := s.pool.getVecDense(nu + m)
	defer s.pool.putVecDense(rhs)
	for i := 0; i < nu; i++ {
		phi := st.grad[i] + st.jtLambda(i)
		if !math.IsInf(st.uL[i], -1) {
			phi -= mu / (st.u[i] - st.uL[i])
		}
		if !math.IsInf(st.uU[i], 1) {
			phi += mu / (st.uU[i] - st.u[i])
		}
		rhs.SetVec(i, -phi)
	}
	for j := 0; j < m; j++ {
		rhs.SetVec(nu+j, -st.c[j])
	}

	// Regularized KKT solve: retry with a growing primal shift until the
	// factorization succeeds and produces a finite step.
	kkt := s.pool.getDense(nu+m, nu+m)
	defer s.pool.putDense(kkt)
	sol := s.pool.getVecDense(nu + m)
	defer s.pool.putVecDense(sol)

	// barrierGrad is the gradient of the barrier objective, used for the
	// descent test and the Armijo condition.
	*penalty = math.Max(*penalty, 2*normInf(st.lambda)+10)
	barrierGrad := make([]float64, nu)
	for i := 0; i < nu; i++ {
		g := st.grad[i]
		if !math.IsInf(st.uL[i], -1) {
			g -= mu / (st.u[i] - st.uL[i])
		}
		if !math.IsInf(st.uU[i], 1) {
			g += mu / (st.uU[i] - st.u[i])
		}
		barrierGrad[i] = g
	}

	solved := false
	for delta := 0.0; delta <= 1e8; {
		kkt.Zero()
		for i := 0; i < nu; i++ {
			for j := 0; j <= i; j++ {
				kkt.Set(i, j, w.At(i, j))
				kkt.Set(j, i, w.At(i, j))
			}
			kkt.Set(i, i, w.At(i, i)+delta)
		}
		for j := 0; j < m; j++ {
			for i := 0; i < nu; i++ {
				kkt.Set(nu+j, i, jac.At(j, i))
				kkt.Set(i, nu+j, jac.At(j, i))
			}
			// Small dual regularization keeps the factorization away from
			// singular saddle points.
			kkt.Set(nu+j, nu+j, -1e-10)
		}

		var lu mat.LU
		lu.Factorize(kkt)
		if err := lu.SolveVecTo(sol, false, rhs); err == nil {
			finite := true
			for i := 0; i < nu+m; i++ {
				if v := sol.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
					finite = false
					break
				}
			}
			if finite {
				// Require a descent direction for the merit function;
				// otherwise grow the regularization to convexify the step.
				dd := -*penalty * norm1(st.c)
				for i := 0; i < nu; i++ {
					dd += barrierGrad[i] * sol.AtVec(i)
				}
				if dd < 0 || delta >= 1e6 {
					solved = true
					break
				}
			}
		}
		if delta == 0 {
			delta = 1e-8
		} else {
			delta *= 100
		}
	}
	if !solved {
		return false, 0
	}

	for i := 0; i < nu; i++ {
		du[i] = sol.AtVec(i)
	}
	for j := 0; j < m; j++ {
		dlambda[j] = sol.AtVec(nu + j)
	}
	for i := 0; i < nu; i++ {
		dzL[i], dzU[i] = 0, 0
		if !math.IsInf(st.uL[i], -1) {
			sl := st.u[i] - st.uL[i]
			dzL[i] = mu/sl - st.zL[i] - st.zL[i]/sl*du[i]
		}
		if !math.IsInf(st.uU[i], 1) {
			su := st.uU[i] - st.u[i]
			dzU[i] = mu/su - st.zU[i] + st.zU[i]/su*du[i]
		}
	}

	// Fraction-to-boundary step limits.
	tau := math.Max(0.99, 1-mu)
	alphaMax := 1.0
	for i := 0; i < nu; i++ {
		if du[i] < 0 && !math.IsInf(st.uL[i], -1) {
			alphaMax = math.Min(alphaMax, -tau*(st.u[i]-st.uL[i])/du[i])
		}
		if du[i] > 0 && !math.IsInf(st.uU[i], 1) {
			alphaMax = math.Min(alphaMax, tau*(st.uU[i]-st.u[i])/du[i])
		}
	}
	alphaZ := 1.0
	for i := 0; i < nu; i++ {
		if dzL[i] < 0 && st.zL[i] > 0 {
			alphaZ = math.Min(alphaZ, -tau*st.zL[i]/dzL[i])
		}
		if dzU[i] < 0 && st.zU[i] > 0 {
			alphaZ = math.Min(alphaZ, -tau*st.zU[i]/dzU[i])
		}
	}

	// Exact-penalty merit line search (Armijo backtracking).
	merit0 := s.merit(st, mu, *penalty)
	dirDeriv := -*penalty * norm1(st.c)
	for i := 0; i < nu; i++ {
		dirDeriv += barrierGrad[i] * du[i]
	}

	uTrial := make([]float64, nu)
	alpha := alphaMax
	accepted := false
	for bt := 0; bt < 40; bt++ {
		for i := 0; i < nu; i++ {
			uTrial[i] = st.u[i] + alpha*du[i]
		}
		if s.trialMerit(p, st, uTrial, mu, *penalty, n, m) <=
			merit0+1e-4*alpha*math.Min(dirDeriv, 0) {
			accepted = true
			break
		}
		alpha /= 2
	}
	if !accepted {
		alpha = 0
	}

	for i := 0; i < nu; i++ {
		st.u[i] += alpha * du[i]
		st.zL[i] = math.Max(0, st.zL[i]+alphaZ*dzL[i])
		st.zU[i] = math.Max(0, st.zU[i]+alphaZ*dzU[i])
	}
	for j := 0; j < m; j++ {
		st.lambda[j] += alpha * dlambda[j]
	}
	return true, alpha
}

// merit is the barrier objective plus the L1 penalty on the equality
// residuals, at the current iterate.
func (s *InteriorPoint) merit(st *ipState, mu, penalty float64) float64 {
	v := st.f
	for i := 0; i < st.nu; i++ {
		if !math.IsInf(st.uL[i], -1) {
			v -= mu * math.Log(st.u[i]-st.uL[i])
		}
		if !math.IsInf(st.uU[i], 1) {
			v -= mu * math.Log(st.uU[i]-st.u[i])
		}
	}
	return v + penalty*norm1(st.c)
}

// trialMerit evaluates the merit function at a trial point without
// disturbing the stored iterate.
func (s *InteriorPoint) trialMerit(p Problem, st *ipState, uTrial []float64,
	mu, penalty float64, n, m int) float64 {

	f, ok := p.EvalF(uTrial[:n], true)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return math.Inf(1)
	}
	v := f
	for i := 0; i < st.nu; i++ {
		if !math.IsInf(st.uL[i], -1) {
			d := uTrial[i] - st.uL[i]
			if d <= 0 {
				return math.Inf(1)
			}
			v -= mu * math.Log(d)
		}
		if !math.IsInf(st.uU[i], 1) {
			d := st.uU[i] - uTrial[i]
			if d <= 0 {
				return math.Inf(1)
			}
			v -= mu * math.Log(d)
		}
	}
	if m > 0 {
		g := make([]float64, m)
		if !p.EvalG(uTrial[:n], false, g) || !allFinite(g) {
			return math.Inf(1)
		}
		for i := 0; i < m; i++ {
			var r float64
			if sc := st.slackOf[i]; sc >= 0 {
				r = g[i] - uTrial[sc]
			} else {
				r = g[i] - st.gL[i]
			}
			v += penalty * math.Abs(r)
		}
	}
	return v
}

// finish refreshes the final point, hands it to the adapter and builds the
// result.
func (s *InteriorPoint) finish(p Problem, st *ipState, status Return, iters int) (*Result, error) {
	n, m := st.n, st.m
	if st.u != nil && st.grad != nil {
		s.evalPoint(p, st, true)
	}

	res := &Result{
		Status:     status,
		Iterations: iters,
		Objective:  st.f,
		X:          make([]float64, n),
		ZL:         make([]float64, n),
		ZU:         make([]float64, n),
		G:          make([]float64, m),
		Lambda:     make([]float64, m),
	}
	if st.u != nil {
		copy(res.X, st.x())
		copy(res.ZL, st.zL[:n])
		copy(res.ZU, st.zU[:n])
		copy(res.G, st.g)
		copy(res.Lambda, st.lambda)
	}

	s.logger.Info("solve finished",
		zap.String("status", status.String()),
		zap.Int("iterations", iters),
		zap.Float64("objective", res.Objective),
	)

	p.FinalizeSolution(status, res.X, res.ZL, res.ZU, res.G, res.Lambda, res.Objective)
	if status == InternalError {
		return res, &callbackError{}
	}
	return res, nil
}

// callbackError marks a solve aborted because a callback refused a
// structural request.
type callbackError struct{}

func (*callbackError) Error() string { return "solver: callback failed" }

func finiteBound(b, inf float64) float64 {
	if math.Abs(b) >= unboundedThreshold {
		return inf
	}
	return b
}

// pushToInterior moves an iterate strictly inside its bounds, the usual
// kappa-fraction push.
func pushToInterior(u, l, ub []float64) {
	const kappa = 1e-2
	for i := range u {
		lo, hi := l[i], ub[i]
		finL, finU := !math.IsInf(lo, -1), !math.IsInf(hi, 1)
		switch {
		case finL && finU:
			pl := math.Min(kappa*math.Max(1, math.Abs(lo)), kappa*(hi-lo))
			pu := math.Min(kappa*math.Max(1, math.Abs(hi)), kappa*(hi-lo))
			u[i] = math.Min(math.Max(u[i], lo+pl), hi-pu)
		case finL:
			u[i] = math.Max(u[i], lo+kappa*math.Max(1, math.Abs(lo)))
		case finU:
			u[i] = math.Min(u[i], hi-kappa*math.Max(1, math.Abs(hi)))
		}
	}
}

func normInf(v []float64) float64 {
	e := 0.0
	for _, x := range v {
		e = math.Max(e, math.Abs(x))
	}
	return e
}

func norm1(v []float64) float64 {
	e := 0.0
	for _, x := range v {
		e += math.Abs(x)
	}
	return e
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
