// Package serviceerr carries the coded error returned by the service layer.
// Codes have the form "<package>.<operation>.<reason>" and are stable enough
// for HTTP clients to branch on.
package serviceerr

import "fmt"

// Error wraps a cause with a stable code.
type Error struct {
	code string
	err  error
}

// New builds an Error coded operation + "." + reason.
func New(operation, reason string, cause error) *Error {
	return &Error{code: operation + "." + reason, err: cause}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Code() string {
	return e.code
}
