// Package errors defines the error taxonomy of the relay core.
// Every failure crossing the per-event boundary is mapped onto one of
// these sentinels before being surfaced to a client connection.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrAuth covers a missing, malformed or expired credential at handshake.
	ErrAuth = fmt.Errorf("authentication failed")
	// ErrForbidden covers an authenticated caller acting outside its rights
	// (not a participant, or reading its own message).
	ErrForbidden = fmt.Errorf("access denied")
	ErrNotFound  = fmt.Errorf("not found")
	// ErrValidation covers malformed input such as empty message text.
	ErrValidation = fmt.Errorf("invalid input")
	// ErrStorage wraps a collaborator failure. Treated as transient: the
	// triggering event is dropped with a scoped error, the client may resubmit.
	ErrStorage = fmt.Errorf("storage failure")

	ErrWorkerPanic = fmt.Errorf("worker panic")
)

// WireMessage converts any internal error into the client-safe message
// carried by an error event. Unknown errors are collapsed into a generic
// message so that internals never leak onto the wire.
func WireMessage(err error) string {
	switch {
	case stderrors.Is(err, ErrAuth):
		return "authentication failed"
	case stderrors.Is(err, ErrForbidden), stderrors.Is(err, ErrNotFound):
		// Not-found is reported as access denied on purpose: a caller must
		// not be able to probe which conversations or messages exist.
		return "access denied"
	case stderrors.Is(err, ErrValidation):
		return "invalid input"
	default:
		return "request failed"
	}
}
