// Package solver defines the NLP callback contract expected from a model
// adapter and provides a primal-dual interior-point solver that drives it.
package solver

// Return is the solver's termination status.
type Return int

const (
	Success Return = iota
	MaxIterExceeded
	CPUTimeExceeded
	StopAtTinyStep
	StopAtAcceptablePoint
	LocalInfeasibility
	UserRequestedStop
	DivergingIterates
	RestorationFailure
	ErrorInStepComputation
	InvalidNumberDetected
	InternalError
	Unknown
)

var returnNames = map[Return]string{
	Success:                "SUCCESS",
	MaxIterExceeded:        "MAXITER_EXCEEDED",
	CPUTimeExceeded:        "CPUTIME_EXCEEDED",
	StopAtTinyStep:         "STOP_AT_TINY_STEP",
	StopAtAcceptablePoint:  "STOP_AT_ACCEPTABLE_POINT",
	LocalInfeasibility:     "LOCAL_INFEASIBILITY",
	UserRequestedStop:      "USER_REQUESTED_STOP",
	DivergingIterates:      "DIVERGING_ITERATES",
	RestorationFailure:     "RESTORATION_FAILURE",
	ErrorInStepComputation: "ERROR_IN_STEP_COMPUTATION",
	InvalidNumberDetected:  "INVALID_NUMBER_DETECTED",
	InternalError:          "INTERNAL_ERROR",
}

// String returns the named status. Unrecognized values map to "UNKNOWN".
func (r Return) String() string {
	if s, ok := returnNames[r]; ok {
		return s
	}
	return "UNKNOWN"
}
