// Package air implements the assertion language handed to SMT solvers: a
// small imperative language of assumes, asserts, assignments, and
// switches over a first-order term language. Queries are turned into
// verification conditions and checked through a Backend.
package air

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSolverTimeout       = errors.New("solver timeout")
	ErrSolverCanceled      = errors.New("solver canceled")
	ErrSolverResourceLimit = errors.New("solver resource limit exceeded")
	ErrSolverUnknown       = errors.New("solver returned unknown")

	ErrUnbalancedScopes = errors.New("unbalanced push/pop")
	ErrUndeclared       = errors.New("undeclared symbol")
	ErrRedeclared       = errors.New("symbol already declared")
	ErrMutableGlobal    = errors.New("mutable variables must be query locals")
)

// ReasonError returns the sentinel error matching a solver's reason for an
// unknown result.
func ReasonError(reason string) error {
	switch {
	case strings.Contains(reason, "timeout"):
		return ErrSolverTimeout
	case strings.Contains(reason, "canceled"):
		return ErrSolverCanceled
	case strings.Contains(reason, "resource limit"), strings.Contains(reason, "rlimit"):
		return ErrSolverResourceLimit
	default:
		return ErrSolverUnknown
	}
}

// Status is the outcome of a validity check.
type Status int

// Statuses.
const (
	StatusValid Status = iota
	StatusInvalid
	StatusUnknown
)

var statuses = [...]string{
	StatusValid:   "valid",
	StatusInvalid: "invalid",
	StatusUnknown: "unknown",
}

// String returns the name of the status.
func (s Status) String() string {
	if s >= 0 && int(s) < len(statuses) {
		return statuses[s]
	}
	return fmt.Sprintf("Status<%d>", s)
}

// Result is the result of one CheckValid command. Errors is set when the
// query is invalid and Reason when it is unknown.
type Result struct {
	Status Status
	Reason string
	Errors []*Diagnostic
}
