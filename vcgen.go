package vcgen

import (
	"errors"
	"fmt"
	"go/token"

	"github.com/ztrue/tracerr"
)

var ErrFunctionNotFound = errors.New("function not found")

// Error is a translation error attributed to a source position. It aborts
// lowering of the function being translated.
type Error struct {
	Span    token.Position
	Message string
}

// Error returns the error formatted with its position.
func (e *Error) Error() string {
	if e.Span.IsValid() {
		return fmt.Sprintf("%s: %s", e.Span, e.Message)
	}
	return e.Message
}

func errorf(span token.Position, format string, args ...interface{}) error {
	return &Error{Span: span, Message: fmt.Sprintf(format, args...)}
}

// InternalError wraps a broken invariant detected while translating a
// function. It indicates malformed input rather than a user error.
type InternalError struct {
	Function string
	Message  string

	// stack of the failed assertion, innermost frame first
	Stack []tracerr.Frame
}

// Error returns the error as a string.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %s", e.Function, e.Message)
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}

// recoverInternal converts an assertion panic into an InternalError. The
// stack is captured before the panicking frames unwind.
func recoverInternal(fn string, err *error) {
	if r := recover(); r != nil {
		e := &InternalError{Function: fn, Message: fmt.Sprint(r)}
		e.Stack = tracerr.StackTrace(tracerr.Wrap(e))
		*err = e
	}
}
