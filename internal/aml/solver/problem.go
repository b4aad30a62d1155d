package solver

// IndexStyle declares the index base of the coordinate arrays exchanged
// through the callbacks.
type IndexStyle int

// CStyle is 0-based indexing. It is the only style the solver requests.
const CStyle IndexStyle = 0

// Info describes the problem sizes declared by the adapter. All array
// lengths in subsequent callbacks follow from it.
type Info struct {
	// N is the number of variables.
	N int
	// M is the number of constraints.
	M int
	// NNZJac is the number of structural Jacobian non-zeros.
	NNZJac int
	// NNZHess is the number of structural lower-triangular Lagrangian
	// Hessian non-zeros.
	NNZHess int
	// IndexStyle is the index base of coordinate arrays.
	IndexStyle IndexStyle
}

// Problem is the callback contract between the solver and a model adapter.
// All slices are caller-owned; callbacks fill them in place. A callback
// returns false when it cannot evaluate at the given point.
//
// The newX flag follows the usual convention: when true, x differs from the
// point of the previous callback and cached evaluations must be refreshed;
// when false the adapter may reuse values from the preceding call.
type Problem interface {
	// Info returns the problem sizes.
	Info() Info

	// BoundsInfo fills the variable bounds (xL, xU) and constraint bounds
	// (gL, gU). Magnitudes at or above 1e19 denote "no bound".
	BoundsInfo(xL, xU, gL, gU []float64) bool

	// StartingPoint fills the requested parts of the initial iterate:
	// primals when initX, bound duals when initZ, constraint duals when
	// initLambda.
	StartingPoint(initX bool, x []float64, initZ bool, zL, zU []float64,
		initLambda bool, lambda []float64) bool

	// EvalF returns the objective value at x.
	EvalF(x []float64, newX bool) (float64, bool)

	// EvalGradF fills the dense objective gradient at x.
	EvalGradF(x []float64, newX bool, gradF []float64) bool

	// EvalG fills the constraint body values at x.
	EvalG(x []float64, newX bool, g []float64) bool

	// EvalJacG fills the constraint Jacobian in coordinate form. When
	// values is nil the sparsity pattern is requested: fill iRow and jCol.
	// Otherwise fill values in the same entry order as the pattern call.
	EvalJacG(x []float64, newX bool, iRow, jCol []int, values []float64) bool

	// EvalH fills the lower-triangular Lagrangian Hessian in coordinate
	// form, with the same nil-values pattern convention as EvalJacG. The
	// Hessian is objFactor * hess(f) + sum_i lambda[i] * hess(g_i).
	EvalH(x []float64, newX bool, objFactor float64, lambda []float64,
		newLambda bool, iRow, jCol []int, values []float64) bool

	// FinalizeSolution hands the final iterate back to the adapter along
	// with the termination status.
	FinalizeSolution(status Return, x, zL, zU, g, lambda []float64,
		objValue float64)
}
