package endpoint

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDestroyed fails calls made on, or still pending at, a destroyed endpoint.
	ErrDestroyed = errors.New("endpoint destroyed")

	ErrEmptyMethod = errors.New("endpoint: method name must not be empty")
)

// TimeoutError is returned when no response arrived before the call deadline.
type TimeoutError struct {
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("RPC call '%s' timed out after %s", e.Method, e.After)
}

// Timeout reports true, so the error satisfies net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// RemoteError carries the error message the counterpart's handler produced.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// SendError wraps a failure to hand the request to the channel.
type SendError struct {
	Method string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("RPC call '%s': send: %v", e.Method, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Retryable reports whether a failed call is worth repeating: timeouts and send failures
// are, remote handler errors and destroy are not. It has the shape of retry.Options.ShouldRetry.
func Retryable(err error, _ int) bool {
	if errors.Is(err, ErrDestroyed) {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var se *SendError
	return errors.As(err, &se)
}
