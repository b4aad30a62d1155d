package evaluator

import (
	"sync"

	"github.com/copyleftdev/GLACIER/internal/aml"
)

// Constraint is one compiled residual: a flat leaf table, a value program
// and one Jacobian program per referenced variable.
type Constraint struct {
	index int

	leaves  []aml.Leaf
	leafNdx map[aml.Leaf]int

	fnRPN    []int
	jacRPN   map[*aml.Var][]int
	varOrder []*aml.Var
}

func (c *Constraint) registerLeaf(l aml.Leaf) int {
	if ndx, ok := c.leafNdx[l]; ok {
		return ndx
	}
	ndx := len(c.leaves)
	c.leaves = append(c.leaves, l)
	c.leafNdx[l] = ndx
	return ndx
}

// IfElseConstraint is a compiled conditional residual: per-branch condition,
// value and Jacobian programs. The trailing else branch carries an empty
// condition program, which always selects.
type IfElseConstraint struct {
	index int

	leaves  []aml.Leaf
	leafNdx map[aml.Leaf]int

	conditionRPN [][]int
	fnRPN        [][]int
	jacRPN       map[*aml.Var][][]int
	varOrder     []*aml.Var
}

func (c *IfElseConstraint) registerLeaf(l aml.Leaf) int {
	if ndx, ok := c.leafNdx[l]; ok {
		return ndx
	}
	ndx := len(c.leaves)
	c.leaves = append(c.leaves, l)
	c.leafNdx[l] = ndx
	return ndx
}

// activeBranch scans the condition ladder and returns the first branch whose
// condition program evaluates truthy. The else branch's empty program always
// matches.
func (c *IfElseConstraint) activeBranch(stack []float64) (int, error) {
	for i, cond := range c.conditionRPN {
		if len(cond) == 0 {
			return i, nil
		}
		v, err := run(stack, cond, c.leaves)
		if err != nil {
			return 0, err
		}
		if v == 1 {
			return i, nil
		}
	}
	return len(c.conditionRPN) - 1, nil
}

// Evaluator owns a set of variables, parameters, constants and compiled
// constraints, and evaluates residual values and a CSR Jacobian against
// them. Any mutation of the registered sets tears down the derived
// structure; SetStructure rebuilds it.
type Evaluator struct {
	vars   []*aml.Var
	params []*aml.Param
	floats []*aml.Float

	cons       []*Constraint
	ifElseCons []*IfElseConstraint

	structureSet bool
	varVector    []*aml.Var
	rowNNZ       []int
	colNdx       []int
	nnz          int
	stackSize    int

	workers int
}

// New creates an empty evaluator.
func New() *Evaluator {
	return &Evaluator{workers: 1}
}

// SetWorkers sets the number of goroutines used by Evaluate and
// EvaluateCSRJacobian. Each worker runs a disjoint partition of the
// constraint range with its own stack; variable values are read-only during
// the call, so the partitions never race.
func (e *Evaluator) SetWorkers(k int) {
	if k < 1 {
		k = 1
	}
	e.workers = k
}

// AddVar registers a new variable with the given starting value.
func (e *Evaluator) AddVar(value float64) *aml.Var {
	e.ReleaseStructure()
	v := aml.NewVar(value)
	v.LB, v.UB = -aml.EvaluatorUnbounded, aml.EvaluatorUnbounded
	e.vars = append(e.vars, v)
	return v
}

// AddParam registers a new parameter.
func (e *Evaluator) AddParam(value float64) *aml.Param {
	e.ReleaseStructure()
	p := aml.NewParam(value)
	e.params = append(e.params, p)
	return p
}

// AddFloat registers a new anonymous constant.
func (e *Evaluator) AddFloat(value float64) *aml.Float {
	e.ReleaseStructure()
	f := aml.NewFloat(value)
	e.floats = append(e.floats, f)
	return f
}

// RemoveVar unregisters a variable. Constraints still referencing it must be
// removed first.
func (e *Evaluator) RemoveVar(v *aml.Var) {
	e.ReleaseStructure()
	for i, w := range e.vars {
		if w == v {
			e.vars = append(e.vars[:i], e.vars[i+1:]...)
			return
		}
	}
}

// RemoveParam unregisters a parameter.
func (e *Evaluator) RemoveParam(p *aml.Param) {
	e.ReleaseStructure()
	for i, w := range e.params {
		if w == p {
			e.params = append(e.params[:i], e.params[i+1:]...)
			return
		}
	}
}

// RemoveFloat unregisters a constant.
func (e *Evaluator) RemoveFloat(f *aml.Float) {
	e.ReleaseStructure()
	for i, w := range e.floats {
		if w == f {
			e.floats = append(e.floats[:i], e.floats[i+1:]...)
			return
		}
	}
}

// AddConstraint compiles an expression into a residual: the value program
// plus one symbolically differentiated Jacobian program per variable the
// expression references.
func (e *Evaluator) AddConstraint(expr aml.Expr) *Constraint {
	e.ReleaseStructure()
	c := &Constraint{
		leafNdx: make(map[aml.Leaf]int),
		jacRPN:  make(map[*aml.Var][]int),
	}
	c.fnRPN = aml.CompileRPN(expr, c.registerLeaf)
	for _, v := range expr.Vars() {
		c.jacRPN[v] = aml.CompileRPN(aml.Diff(expr, v), c.registerLeaf)
		c.varOrder = append(c.varOrder, v)
	}
	e.cons = append(e.cons, c)
	return c
}

// AddIfElseConstraint compiles a conditional residual from a ladder of
// condition expressions and branch expressions. branches must hold exactly
// one more entry than conditions; the trailing branch is the else.
func (e *Evaluator) AddIfElseConstraint(conditions, branches []aml.Expr) (*IfElseConstraint, error) {
	const op = "Evaluator.AddIfElseConstraint"
	if len(branches) != len(conditions)+1 {
		return nil, aml.NewStructureError(op,
			"want one more branch than conditions, got %d branches for %d conditions",
			len(branches), len(conditions))
	}
	e.ReleaseStructure()
	c := &IfElseConstraint{
		leafNdx: make(map[aml.Leaf]int),
		jacRPN:  make(map[*aml.Var][][]int),
	}

	seen := make(map[*aml.Var]bool)
	for _, b := range branches {
		for _, v := range b.Vars() {
			if !seen[v] {
				seen[v] = true
				c.varOrder = append(c.varOrder, v)
			}
		}
	}

	for i, b := range branches {
		if i < len(conditions) {
			// The condition program yields 1 exactly when cond <= 0.
			code := aml.CompileRPN(conditions[i], c.registerLeaf)
			code = append(code,
				c.registerLeaf(aml.NewFloat(-aml.EvaluatorUnbounded)),
				c.registerLeaf(aml.NewFloat(0)),
				aml.OpInequality)
			c.conditionRPN = append(c.conditionRPN, code)
		} else {
			c.conditionRPN = append(c.conditionRPN, nil)
		}
		c.fnRPN = append(c.fnRPN, aml.CompileRPN(b, c.registerLeaf))
		for _, v := range c.varOrder {
			c.jacRPN[v] = append(c.jacRPN[v],
				aml.CompileRPN(aml.Diff(b, v), c.registerLeaf))
		}
	}
	e.ifElseCons = append(e.ifElseCons, c)
	return c, nil
}

// RemoveConstraint unregisters a compiled constraint.
func (e *Evaluator) RemoveConstraint(c *Constraint) {
	e.ReleaseStructure()
	for i, w := range e.cons {
		if w == c {
			e.cons = append(e.cons[:i], e.cons[i+1:]...)
			return
		}
	}
}

// RemoveIfElseConstraint unregisters a compiled conditional constraint.
func (e *Evaluator) RemoveIfElseConstraint(c *IfElseConstraint) {
	e.ReleaseStructure()
	for i, w := range e.ifElseCons {
		if w == c {
			e.ifElseCons = append(e.ifElseCons[:i], e.ifElseCons[i+1:]...)
			return
		}
	}
}

// NumConstraints returns the number of registered constraints, conditional
// ones included.
func (e *Evaluator) NumConstraints() int {
	return len(e.cons) + len(e.ifElseCons)
}

// NumVars returns the number of registered variables.
func (e *Evaluator) NumVars() int { return len(e.vars) }

// SetStructure assigns variable column indices, lays out the CSR index
// arrays and sizes the evaluation stack. It must be called before Evaluate
// or EvaluateCSRJacobian, and again after any add or remove.
func (e *Evaluator) SetStructure() error {
	const op = "Evaluator.SetStructure"
	e.ReleaseStructure()

	e.varVector = append([]*aml.Var(nil), e.vars...)
	for i, v := range e.varVector {
		v.Index = i
	}

	e.rowNNZ = make([]int, 1, e.NumConstraints()+1)
	e.colNdx = e.colNdx[:0]
	maxRPN := 0

	ndx := 0
	for _, c := range e.cons {
		c.index = ndx
		e.rowNNZ = append(e.rowNNZ, e.rowNNZ[ndx]+len(c.varOrder))
		maxRPN = maxIntSize(maxRPN, len(c.fnRPN))
		for _, v := range c.varOrder {
			e.colNdx = append(e.colNdx, v.Index)
			maxRPN = maxIntSize(maxRPN, len(c.jacRPN[v]))
		}
		ndx++
	}
	for _, c := range e.ifElseCons {
		c.index = ndx
		nConditions := len(c.conditionRPN)
		e.rowNNZ = append(e.rowNNZ, e.rowNNZ[ndx]+len(c.varOrder))
		for i := 0; i < nConditions; i++ {
			maxRPN = maxIntSize(maxRPN, len(c.conditionRPN[i]))
			maxRPN = maxIntSize(maxRPN, len(c.fnRPN[i]))
		}
		for _, v := range c.varOrder {
			if len(c.jacRPN[v]) != nConditions {
				return aml.NewStructureError(op,
					"the number of jacobian programs per variable must equal the number of conditions")
			}
			e.colNdx = append(e.colNdx, v.Index)
			for _, code := range c.jacRPN[v] {
				maxRPN = maxIntSize(maxRPN, len(code))
			}
		}
		ndx++
	}

	e.nnz = e.rowNNZ[len(e.rowNNZ)-1]
	e.stackSize = maxRPN
	e.structureSet = true
	return nil
}

// ReleaseStructure tears down the derived tables. It is required before any
// add or remove of variables or constraints, and is called implicitly by the
// mutating methods.
func (e *Evaluator) ReleaseStructure() {
	e.structureSet = false
	e.varVector = nil
	e.rowNNZ = nil
	e.colNdx = nil
	e.nnz = 0
	e.stackSize = 0
}

// NNZ returns the Jacobian non-zero count. Valid only after SetStructure.
func (e *Evaluator) NNZ() int { return e.nnz }

func (e *Evaluator) structureError(op string) error {
	return aml.NewStructureError(op, "structure not set")
}

// Evaluate runs every constraint's value program and writes the residuals
// into out, indexed by constraint. With more than one worker the constraint
// range is partitioned and evaluated in parallel.
func (e *Evaluator) Evaluate(out []float64) error {
	const op = "Evaluator.Evaluate"
	if !e.structureSet {
		return e.structureError(op)
	}
	return e.parallelRows(func(stack []float64, row int) error {
		if row < len(e.cons) {
			c := e.cons[row]
			v, err := run(stack, c.fnRPN, c.leaves)
			if err != nil {
				return err
			}
			out[c.index] = v
			return nil
		}
		c := e.ifElseCons[row-len(e.cons)]
		branch, err := c.activeBranch(stack)
		if err != nil {
			return err
		}
		v, err := run(stack, c.fnRPN[branch], c.leaves)
		if err != nil {
			return err
		}
		out[c.index] = v
		return nil
	})
}

// EvaluateCSRJacobian evaluates every Jacobian program (for conditional
// constraints, the active branch's programs) and fills the CSR arrays.
// values is written in row-major order matching (rowNNZ, colNdx).
func (e *Evaluator) EvaluateCSRJacobian(values []float64, colNdx, rowNNZ []int) error {
	const op = "Evaluator.EvaluateCSRJacobian"
	if !e.structureSet {
		return e.structureError(op)
	}
	copy(rowNNZ, e.rowNNZ)
	copy(colNdx, e.colNdx)
	return e.parallelRows(func(stack []float64, row int) error {
		base := e.rowNNZ[row]
		if row < len(e.cons) {
			c := e.cons[row]
			for k, v := range c.varOrder {
				val, err := run(stack, c.jacRPN[v], c.leaves)
				if err != nil {
					return err
				}
				values[base+k] = val
			}
			return nil
		}
		c := e.ifElseCons[row-len(e.cons)]
		branch, err := c.activeBranch(stack)
		if err != nil {
			return err
		}
		for k, v := range c.varOrder {
			val, err := run(stack, c.jacRPN[v][branch], c.leaves)
			if err != nil {
				return err
			}
			values[base+k] = val
		}
		return nil
	})
}

// parallelRows runs fn over every constraint row, partitioned across the
// configured workers. Each worker owns a private stack; writes go to
// disjoint row-indexed output positions.
func (e *Evaluator) parallelRows(fn func(stack []float64, row int) error) error {
	rows := e.NumConstraints()
	workers := e.workers
	if workers > rows {
		workers = rows
	}
	if workers <= 1 {
		stack := make([]float64, e.stackSize)
		for row := 0; row < rows; row++ {
			if err := fn(stack, row); err != nil {
				return err
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	chunk := (rows + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > rows {
			hi = rows
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			stack := make([]float64, e.stackSize)
			for row := lo; row < hi; row++ {
				if err := fn(stack, row); err != nil {
					errs[w] = err
					return
				}
			}
		}(w, lo, hi)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// GetX copies the current variable values into out in column order.
func (e *Evaluator) GetX(out []float64) error {
	const op = "Evaluator.GetX"
	if !e.structureSet {
		return e.structureError(op)
	}
	for i, v := range e.varVector {
		out[i] = v.Value()
	}
	return nil
}

// LoadVarValues copies x into the variables in column order.
func (e *Evaluator) LoadVarValues(x []float64) error {
	const op = "Evaluator.LoadVarValues"
	if !e.structureSet {
		return e.structureError(op)
	}
	for i, v := range e.varVector {
		v.SetValue(x[i])
	}
	return nil
}

func maxIntSize(a, b int) int {
	if a > b {
		return a
	}
	return b
}
