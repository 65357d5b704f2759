package remote

import (
	stderrors "errors"
	"fmt"
)

// TransportError is a recoverable failure: the request may not have reached
// the service, or the service asked us to come back later.
type TransportError struct {
	Status int // 0 when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a permanent rejection: retrying the same request
// unmodified will not succeed.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (%d): %s", e.Status, e.Message)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return stderrors.As(err, &te)
}

// IsRejected reports whether err is a permanent rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return stderrors.As(err, &re)
}

// AsRejected extracts the rejection from err.
func AsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if stderrors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// retryableStatus reports statuses that are worth retrying later.
func retryableStatus(code int) bool {
	return code == 408 || code == 425 || code == 429 || code >= 500
}
