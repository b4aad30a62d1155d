package aml

import (
	"sort"
	"strconv"
	"strings"
)

// VarPair is a lower-triangular Hessian key: Hi.Index >= Lo.Index always
// holds for pairs stored in the model's Hessian map.
type VarPair struct {
	Hi *Var
	Lo *Var
}

// hessCell tracks which components contribute a structurally nonzero second
// partial for one variable pair. Contributors are sets so that add/remove
// stays incremental; a cell with both sets empty is pruned from the map.
type hessCell struct {
	obj  map[*Objective]struct{}
	cons map[GeneralConstraint]struct{}
}

func (c *hessCell) empty() bool {
	return len(c.obj) == 0 && len(c.cons) == 0
}

// Model owns the registered variables and constraints, the current
// objective, and the lower-triangular Hessian map that mirrors the union of
// the contributors' second-order sparsity patterns. All mutations keep the
// map exact: iteration over it equals the Lagrangian Hessian pattern.
type Model struct {
	vars []*Var
	cons []GeneralConstraint
	obj  *Objective

	hessianMap map[VarPair]*hessCell

	// SolverStatus holds the named status written by the last solve.
	SolverStatus string
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{hessianMap: make(map[VarPair]*hessCell)}
}

// AddVar registers a variable and assigns its index. Adding a variable that
// is already registered is a no-op.
func (m *Model) AddVar(v *Var) {
	if v.Index >= 0 && v.Index < len(m.vars) && m.vars[v.Index] == v {
		return
	}
	v.Index = len(m.vars)
	m.vars = append(m.vars, v)
}

// RemoveVar unregisters a variable, renumbering the trailing variables.
// Removing a variable still referenced by a live component is caller error.
func (m *Model) RemoveVar(v *Var) {
	ndx := v.Index
	if ndx < 0 || ndx >= len(m.vars) || m.vars[ndx] != v {
		return
	}
	m.vars = append(m.vars[:ndx], m.vars[ndx+1:]...)
	for _, w := range m.vars[ndx:] {
		w.Index--
	}
	v.Index = -1
}

// Vars returns the registered variables in index order.
func (m *Model) Vars() []*Var { return m.vars }

// Constraints returns the registered constraints in index order.
func (m *Model) Constraints() []GeneralConstraint { return m.cons }

// Objective returns the current objective, or nil.
func (m *Model) Objective() *Objective { return m.obj }

// SetObjective replaces the objective, first removing the outgoing
// objective's Hessian contributions and then installing the incoming ones.
func (m *Model) SetObjective(o *Objective) {
	if m.obj != nil {
		m.walkPairs(m.obj, m.obj.Vars(), func(cell *hessCell) {
			delete(cell.obj, m.obj)
		}, false)
	}
	m.obj = o
	if o != nil {
		m.walkPairs(o, o.Vars(), func(cell *hessCell) {
			cell.obj[o] = struct{}{}
		}, true)
	}
}

// AddConstraint registers a constraint and installs its Hessian
// contributions.
func (m *Model) AddConstraint(c GeneralConstraint) {
	c.SetIndex(len(m.cons))
	m.cons = append(m.cons, c)
	m.walkPairs(c, c.Vars(), func(cell *hessCell) {
		cell.cons[c] = struct{}{}
	}, true)
}

// RemoveConstraint unregisters a constraint, renumbers the trailing
// constraints, and removes its Hessian contributions.
func (m *Model) RemoveConstraint(c GeneralConstraint) {
	ndx := c.GetIndex()
	if ndx < 0 || ndx >= len(m.cons) || m.cons[ndx] != c {
		return
	}
	m.cons = append(m.cons[:ndx], m.cons[ndx+1:]...)
	for _, o := range m.cons[ndx:] {
		o.SetIndex(o.GetIndex() - 1)
	}
	c.SetIndex(-1)
	m.walkPairs(c, c.Vars(), func(cell *hessCell) {
		delete(cell.cons, c)
	}, false)
}

// walkPairs visits every lower-triangular variable pair of a component's
// variable set for which the component predicts a nonzero second partial.
// When inserting, missing cells are created; when removing, emptied cells
// are pruned.
func (m *Model) walkPairs(comp Component, vars []*Var, visit func(*hessCell), insert bool) {
	for _, v1 := range vars {
		for _, v2 := range vars {
			if v2.Index > v1.Index {
				continue
			}
			if !comp.HasAD2(v1, v2) {
				continue
			}
			key := VarPair{Hi: v1, Lo: v2}
			cell, ok := m.hessianMap[key]
			if !ok {
				if !insert {
					continue
				}
				cell = &hessCell{
					obj:  make(map[*Objective]struct{}),
					cons: make(map[GeneralConstraint]struct{}),
				}
				m.hessianMap[key] = cell
			}
			visit(cell)
			if !insert && cell.empty() {
				delete(m.hessianMap, key)
			}
		}
	}
}

// HessianEntries returns the Hessian pattern in deterministic order: rows by
// the higher index ascending, then by the lower index ascending.
func (m *Model) HessianEntries() []VarPair {
	pairs := make([]VarPair, 0, len(m.hessianMap))
	for p := range m.hessianMap {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Hi.Index != pairs[j].Hi.Index {
			return pairs[i].Hi.Index < pairs[j].Hi.Index
		}
		return pairs[i].Lo.Index < pairs[j].Lo.Index
	})
	return pairs
}

// NumHessianEntries returns the number of structural Lagrangian Hessian
// non-zeros.
func (m *Model) NumHessianEntries() int { return len(m.hessianMap) }

// HasHessianEntry reports whether (v1, v2) is a key of the Hessian map,
// in either orientation.
func (m *Model) HasHessianEntry(v1, v2 *Var) bool {
	if _, ok := m.hessianMap[VarPair{Hi: v1, Lo: v2}]; ok {
		return true
	}
	_, ok := m.hessianMap[VarPair{Hi: v2, Lo: v1}]
	return ok
}

// hessianValue assembles one Hessian cell: the objective contributions
// scaled by objFactor plus the constraint contributions scaled by their
// multipliers.
func (m *Model) hessianValue(p VarPair, objFactor float64, lambda []float64) float64 {
	cell := m.hessianMap[p]
	if cell == nil {
		return 0
	}
	val := 0.0
	for o := range cell.obj {
		val += objFactor * o.AD2(p.Hi, p.Lo, false)
	}
	for c := range cell.cons {
		val += lambda[c.GetIndex()] * c.AD2(p.Hi, p.Lo, false)
	}
	return val
}

// contributes reports whether comp is recorded as a contributor for the
// (v1, v2) cell. It exists for invariant checks in tests.
func (m *Model) contributes(comp Component, v1, v2 *Var) bool {
	key := VarPair{Hi: v1, Lo: v2}
	cell, ok := m.hessianMap[key]
	if !ok {
		return false
	}
	switch t := comp.(type) {
	case *Objective:
		_, ok = cell.obj[t]
	case GeneralConstraint:
		_, ok = cell.cons[t]
	default:
		ok = false
	}
	return ok
}

func (m *Model) String() string {
	var b strings.Builder
	b.WriteString("cons:\n")
	for _, c := range m.cons {
		b.WriteString(strconv.Itoa(c.GetIndex()))
		b.WriteString(":   ")
		b.WriteString(c.String())
		b.WriteString("\n")
	}
	b.WriteString("\nvars:\n")
	for _, v := range m.vars {
		b.WriteString(strconv.Itoa(v.Index))
		b.WriteString(":   ")
		b.WriteString(v.String())
		b.WriteString("\n")
	}
	return b.String()
}
