package aml

import "fmt"

// ErrorKind classifies modeling-layer failures. Numeric faults during
// evaluation are deliberately not represented here: a division by a live
// zero or a log of a non-positive value propagates as an IEEE value through
// the node scratch fields, and the solver surfaces it as
// INVALID_NUMBER_DETECTED.
type ErrorKind uint8

const (
	// StructureError is a precondition violation raised while building
	// expressions or compiling evaluator structure: division by a constant
	// zero, 0**0, evaluating before SetStructure, mismatched branch
	// cardinality. No partial state is committed.
	StructureError ErrorKind = iota
	// SolverError reports a failed exchange with the NLP solver: a callback
	// refused a structural request and the run was aborted.
	SolverError
)

func (k ErrorKind) String() string {
	switch k {
	case StructureError:
		return "structure"
	case SolverError:
		return "solver"
	}
	return "unknown"
}

// Error is the modeling layer's error value: the failing operation, a
// message, and the kind of failure. The expression builders deliver
// structure errors by panic, since operator construction has no error
// channel; API-level calls (the evaluator, Model.Solve) return them.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s error in %s: %s", e.Kind, e.Op, msg)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStructureError creates a StructureError for the given operation.
func NewStructureError(op, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    StructureError,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// newSolverError wraps a solver-side failure.
func newSolverError(op string, err error) *Error {
	return &Error{
		Kind:    SolverError,
		Op:      op,
		Message: "solve aborted",
		Err:     err,
	}
}
