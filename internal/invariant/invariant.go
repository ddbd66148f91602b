// Package invariant provides contract assertions for the recipe runner.
//
// Precondition/Postcondition/Invariant express function contracts and
// internal consistency checks. All of them panic on violation: these are
// programming errors, not user errors, and should never be reachable from
// untrusted input (validate that with go-playground/validator instead).
package invariant

import "fmt"

// Precondition checks an input contract at function entry.
func Precondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("PRECONDITION", format, args...)
	}
}

// Postcondition checks an output contract before function return.
func Postcondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("POSTCONDITION", format, args...)
	}
}

// Invariant checks an internal invariant during function execution.
func Invariant(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("INVARIANT", format, args...)
	}
}

// NotNil panics if v is nil. Use for pointer/interface/map/slice arguments
// that must be non-nil at the point of the call.
func NotNil(v interface{}, name string) {
	if v == nil {
		fail("PRECONDITION", "%s must not be nil", name)
	}
}

func fail(kind, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	panic(fmt.Sprintf("%s VIOLATION: %s", kind, msg))
}
