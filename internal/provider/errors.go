package provider

import (
	"errors"
	"fmt"
)

// ErrUnreachable wraps transport-level failures (DNS, refused
// connections, timeouts). Callers surface these as retryable
// infrastructure faults, never as "unauthenticated".
var ErrUnreachable = errors.New("provider unreachable")

// RejectedError is a non-2xx token-endpoint response with a well-formed
// OAuth error body. Code and Description are the provider's values and
// must not be shown to end users verbatim.
type RejectedError struct {
	Status      int
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("provider rejected request: http %d %s %s", e.Status, e.Code, e.Description)
}

// MalformedResponseError is a provider response whose body could not be
// decoded as JSON. Kept distinct from RejectedError so callers can tell
// "the provider said no" from "the provider is broken".
type MalformedResponseError struct {
	Status int
	Body   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed provider response: http %d", e.Status)
}

// AsRejected unwraps err into a RejectedError when possible.
func AsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsMalformed reports whether err is a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}
