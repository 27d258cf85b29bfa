package serverapi

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a search for an exact finding key comes back
// with zero results.
var ErrNotFound = errors.New("finding not found on server")

// ErrMalformedResponse is returned when the server answered 2xx with a body
// the client cannot interpret. Distinct from ErrNotFound and from transport
// failures, which are reported as *StatusError or the underlying net error.
var ErrMalformedResponse = errors.New("malformed server response")

// StatusError is a non-2xx HTTP response from the server. It is a transport
// level failure and is never reinterpreted as ErrNotFound.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}
