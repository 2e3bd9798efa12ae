package errors

import "fmt"

// PreconditionError is the value passed to panic when a trusted internal
// caller violates the contract of a function, e.g. by passing a nil source
// or an out-of-range page index.
type PreconditionError struct {
	msg string
}

func (e *PreconditionError) Error() string {
	return "precondition violated: " + e.msg
}

// Precondition panics with a *PreconditionError if ok is false.
func Precondition(ok bool, format string, args ...interface{}) {
	if ok {
		return
	}

	panic(&PreconditionError{msg: fmt.Sprintf(format, args...)})
}

// IsPrecondition reports whether v, usually obtained from recover(), is a
// precondition violation raised by Precondition.
func IsPrecondition(v interface{}) bool {
	_, ok := v.(*PreconditionError)
	return ok
}
