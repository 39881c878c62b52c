package invoker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Status classifies how a single call ended.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusHTTPError    Status = "http_error"
	StatusNetworkError Status = "network_error"
	StatusTimeout      Status = "timeout"
)

// Outcome is the result of one request. Latency is measured from the moment
// the call is issued to the moment its response, error or timeout is known.
type Outcome struct {
	IssuedAt    time.Time     `json:"issued_at"`
	Latency     time.Duration `json:"latency"`
	Status      Status        `json:"status"`
	StatusCode  int           `json:"status_code,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	Err         error         `json:"-"`
}

// Success reports whether the call counts toward throughput.
func (o Outcome) Success() bool { return o.Status == StatusSuccess }

// NetworkError wraps a transport failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError reports a call that did not finish within its deadline.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("request timed out after %s", e.Timeout)
	}
	return "request timed out"
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ProtocolError reports a response outside the 2xx range.
type ProtocolError struct {
	StatusCode int
	Detail     string
}

func (e *ProtocolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// classifyTransportError maps a failed round trip to a status and typed error.
// Canceled calls count as timeouts: they were cut off before completing.
func classifyTransportError(err error, timeout time.Duration) (Status, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StatusTimeout, &TimeoutError{Timeout: timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout, &TimeoutError{Timeout: timeout, Err: err}
	}
	return StatusNetworkError, &NetworkError{Err: err}
}
