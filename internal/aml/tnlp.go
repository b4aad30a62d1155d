package aml

import (
	"context"

	"go.uber.org/zap"

	"github.com/copyleftdev/GLACIER/internal/aml/solver"
)

// nlp adapts a Model to the solver.Problem callback contract. The adapter
// owns no arrays: every slice it touches is allocated by the solver with the
// lengths declared by Info.
type nlp struct {
	model *Model
}

// NLP returns the model presented as an NLP callback problem.
func (m *Model) NLP() solver.Problem {
	return &nlp{model: m}
}

// Info implements solver.Problem. The Jacobian non-zero count is the sum of
// the per-constraint variable set sizes; the Hessian count is the number of
// entries in the model's Hessian map.
func (t *nlp) Info() solver.Info {
	nnzJac := 0
	for _, c := range t.model.cons {
		nnzJac += len(c.Vars())
	}
	return solver.Info{
		N:          len(t.model.vars),
		M:          len(t.model.cons),
		NNZJac:     nnzJac,
		NNZHess:    t.model.NumHessianEntries(),
		IndexStyle: solver.CStyle,
	}
}

// BoundsInfo implements solver.Problem.
func (t *nlp) BoundsInfo(xL, xU, gL, gU []float64) bool {
	for i, v := range t.model.vars {
		xL[i] = v.LB
		xU[i] = v.UB
	}
	for i, c := range t.model.cons {
		gL[i], gU[i] = c.Bounds()
	}
	return true
}

// StartingPoint implements solver.Problem.
func (t *nlp) StartingPoint(initX bool, x []float64, initZ bool, zL, zU []float64,
	initLambda bool, lambda []float64) bool {

	if initX {
		for i, v := range t.model.vars {
			x[i] = v.Value()
		}
	}
	if initZ {
		for i, v := range t.model.vars {
			zL[i] = v.LBDual
			zU[i] = v.UBDual
		}
	}
	if initLambda {
		for i, c := range t.model.cons {
			lambda[i] = c.GetDual()
		}
	}
	return true
}

// loadX copies the solver's point into the variables and re-evaluates the
// objective and every constraint, so that cached node values are current
// before any AD call with newEval = false.
func (t *nlp) loadX(x []float64) {
	for _, v := range t.model.vars {
		v.SetValue(x[v.Index])
	}
	if t.model.obj != nil {
		t.model.obj.Evaluate()
	}
	for _, c := range t.model.cons {
		c.Evaluate()
	}
}

// EvalF implements solver.Problem.
func (t *nlp) EvalF(x []float64, newX bool) (float64, bool) {
	if newX {
		t.loadX(x)
	}
	if t.model.obj == nil {
		return 0, true
	}
	return t.model.obj.Value(), true
}

// EvalGradF implements solver.Problem.
func (t *nlp) EvalGradF(x []float64, newX bool, gradF []float64) bool {
	if newX {
		t.loadX(x)
	}
	for i := range gradF {
		gradF[i] = 0
	}
	if t.model.obj == nil {
		return true
	}
	for _, v := range t.model.obj.Vars() {
		gradF[v.Index] = t.model.obj.AD(v, false)
	}
	return true
}

// EvalG implements solver.Problem.
func (t *nlp) EvalG(x []float64, newX bool, g []float64) bool {
	if newX {
		t.loadX(x)
	}
	for i, c := range t.model.cons {
		g[i] = c.Value()
	}
	return true
}

// EvalJacG implements solver.Problem. The value sequence matches the
// pattern sequence entry for entry: constraints in index order, each
// constraint's variables in its Vars order.
func (t *nlp) EvalJacG(x []float64, newX bool, iRow, jCol []int, values []float64) bool {
	if values == nil {
		i := 0
		for _, c := range t.model.cons {
			for _, v := range c.Vars() {
				iRow[i] = c.GetIndex()
				jCol[i] = v.Index
				i++
			}
		}
		return true
	}
	if newX {
		t.loadX(x)
	}
	i := 0
	for _, c := range t.model.cons {
		for _, v := range c.Vars() {
			values[i] = c.AD(v, false)
			i++
		}
	}
	return true
}

// EvalH implements solver.Problem. Entries follow the model's deterministic
// Hessian order: rows by the higher variable index, then the lower.
func (t *nlp) EvalH(x []float64, newX bool, objFactor float64, lambda []float64,
	newLambda bool, iRow, jCol []int, values []float64) bool {

	entries := t.model.HessianEntries()
	if values == nil {
		for i, pr := range entries {
			iRow[i] = pr.Hi.Index
			jCol[i] = pr.Lo.Index
		}
		return true
	}
	if newX {
		t.loadX(x)
	}
	if newLambda {
		for _, c := range t.model.cons {
			c.SetDual(lambda[c.GetIndex()])
		}
	}
	for i, pr := range entries {
		values[i] = t.model.hessianValue(pr, objFactor, lambda)
	}
	return true
}

// FinalizeSolution implements solver.Problem: the named status and the final
// primals and duals are written back into the model, whatever the status.
func (t *nlp) FinalizeSolution(status solver.Return, x, zL, zU, g, lambda []float64,
	objValue float64) {

	t.model.SolverStatus = status.String()
	for _, v := range t.model.vars {
		v.SetValue(x[v.Index])
		v.LBDual = zL[v.Index]
		v.UBDual = zU[v.Index]
	}
	for _, c := range t.model.cons {
		c.SetDual(lambda[c.GetIndex()])
	}
}

// Solve runs the interior-point solver on the model with default options.
func (m *Model) Solve() error {
	return m.SolveWith(context.Background(), solver.Options{}, nil)
}

// SolveWith runs the interior-point solver with explicit options and an
// optional logger. The solver status name is stored in SolverStatus and the
// final point is written back into the model's variables and constraints.
// A non-nil error means the run was aborted by a failed callback exchange;
// an unsuccessful but completed run reports through SolverStatus alone.
func (m *Model) SolveWith(ctx context.Context, opts solver.Options, logger *zap.Logger) error {
	s := solver.New(opts, logger)
	if _, err := s.Solve(ctx, m.NLP()); err != nil {
		return newSolverError("Model.Solve", err)
	}
	return nil
}
