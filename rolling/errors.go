package rolling

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrPending is returned by Result for a handle whose batch has not run yet.
	ErrPending = errors.New("request has not been executed")

	// ErrForeignHandle is returned by Result for a handle submitted to another Executor.
	ErrForeignHandle = errors.New("handle belongs to a different executor")
)

// TransportError reports a request that never produced an HTTP response:
// connection refused, DNS failure, reset, or a deadline hit before the
// response arrived.
type TransportError struct {
	Method  string
	URL     string
	Timeout bool
	Err     error
}

func newTransportError(method, url string, err error) *TransportError {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &TransportError{Method: method, URL: url, Timeout: timeout, Err: err}
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport timeout: %s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("transport error: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is a transient network error.
// Cancellation and deadlines set by the caller are not retried.
func (e *TransportError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(e.Err, &opErr)
}
