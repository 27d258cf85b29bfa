package issue

import (
	"errors"
	"fmt"
)

// ErrUnknownConnection is returned when an operation names a connection id
// that is not (or no longer) registered.
var ErrUnknownConnection = errors.New("connection does not exist")

// ErrScopeNotBound is returned by the capability check when the scope has no
// server binding. Operations that degrade to a no-op on missing bindings do
// not use it.
var ErrScopeNotBound = errors.New("scope has no binding")

// StatusChangeError wraps any failure while changing a finding's status,
// including the anticipated-transitions push. The cause is always preserved.
type StatusChangeError struct {
	Cause error
}

func (e *StatusChangeError) Error() string {
	return fmt.Sprintf("changing finding status: %v", e.Cause)
}

func (e *StatusChangeError) Unwrap() error {
	return e.Cause
}

// CommentError wraps any failure while adding a comment to a finding.
type CommentError struct {
	Cause error
}

func (e *CommentError) Error() string {
	return fmt.Sprintf("adding finding comment: %v", e.Cause)
}

func (e *CommentError) Unwrap() error {
	return e.Cause
}
