package endpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"framebridge/message"
	"framebridge/metrics"
)

// Call is an outbound request waiting for its response. Done is closed once the call has
// settled, after which Result returns its outcome.
type Call struct {
	ID      string
	Method  string
	Timeout time.Duration
	Done    chan struct{}

	timer  *time.Timer
	result any
	err    error
}

func (c *Call) finish(result any, err error) {
	c.result, c.err = result, err
	close(c.Done)
}

// Result returns the outcome of a settled call. It blocks until Done is closed.
func (c *Call) Result() (any, error) {
	<-c.Done
	return c.result, c.err
}

// Call invokes method on the counterpart with the default timeout.
func (e *Endpoint) Call(ctx context.Context, method string, args ...any) (any, error) {
	return e.CallTimeout(ctx, e.callTimeout, method, args...)
}

// CallTimeout invokes method and waits for the response, the timeout, or ctx, whichever
// comes first. A non-positive timeout means the endpoint default.
func (e *Endpoint) CallTimeout(ctx context.Context, timeout time.Duration, method string, args ...any) (any, error) {
	c, err := e.Go(method, timeout, args...)
	if err != nil {
		return nil, err
	}

	select {
	case <-c.Done:
	case <-ctx.Done():
		e.abandon(c, ctx.Err())
	}
	return c.Result()
}

// CallInto is Call followed by decoding the result into reply, which must be a pointer.
func (e *Endpoint) CallInto(ctx context.Context, reply any, method string, args ...any) error {
	result, err := e.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	data, err := e.codec.Encode(result)
	if err != nil {
		return fmt.Errorf("endpoint: re-encode result of %s: %w", method, err)
	}
	if err := e.codec.Decode(data, reply); err != nil {
		return fmt.Errorf("endpoint: decode result of %s: %w", method, err)
	}
	return nil
}

// Go starts a call without waiting for it. The pending entry is registered before the
// request is sent, so a response can never outrun its correlation record.
func (e *Endpoint) Go(method string, timeout time.Duration, args ...any) (*Call, error) {
	if method == "" {
		return nil, ErrEmptyMethod
	}
	if timeout <= 0 {
		timeout = e.callTimeout
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil, ErrDestroyed
	}
	id := e.newID()
	for _, taken := e.pending[id]; taken; _, taken = e.pending[id] {
		id = e.newID()
	}
	c := &Call{
		ID:      id,
		Method:  method,
		Timeout: timeout,
		Done:    make(chan struct{}),
	}
	c.timer = time.AfterFunc(timeout, func() { e.expire(id) })
	e.pending[id] = c
	e.mu.Unlock()
	e.metrics.CallStarted()

	payload, err := e.codec.Encode(message.NewRequest(id, method, args))
	if err != nil {
		if e.take(id) != nil {
			c.finish(nil, fmt.Errorf("endpoint: encode %s arguments: %w", method, err))
			e.metrics.CallFinished(method, metrics.OutcomeSendError)
		}
		return c, nil
	}

	if err := e.target.Send(payload, e.targetOrigin); err != nil {
		if e.take(id) != nil {
			c.finish(nil, &SendError{Method: method, Err: err})
			e.metrics.CallFinished(method, metrics.OutcomeSendError)
		}
		return c, nil
	}
	e.sent.Add(1)
	return c, nil
}

// take removes the pending entry for id. Only the caller that gets a non-nil Call may
// settle it.
func (e *Endpoint) take(id string) *Call {
	e.mu.Lock()
	c, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	c.timer.Stop()
	return c
}

func (e *Endpoint) expire(id string) {
	c := e.take(id)
	if c == nil {
		return
	}
	e.timedOut.Add(1)
	c.finish(nil, &TimeoutError{Method: c.Method, After: c.Timeout})
	e.metrics.CallFinished(c.Method, metrics.OutcomeTimeout)
}

func (e *Endpoint) abandon(c *Call, cause error) {
	if e.take(c.ID) == nil {
		return
	}
	c.finish(nil, cause)
	e.metrics.CallFinished(c.Method, metrics.OutcomeCancelled)
}

// resolve settles the call a response belongs to. Responses for unknown or already settled
// calls are ignored.
func (e *Endpoint) resolve(f *message.Frame) {
	c := e.take(f.ID)
	if c == nil {
		e.log.Debug("response for unknown call ignored", zap.String("id", f.ID))
		return
	}
	e.matched.Add(1)

	if f.Failed() {
		c.finish(nil, &RemoteError{Method: c.Method, Message: f.Error})
		e.metrics.CallFinished(c.Method, metrics.OutcomeRemoteError)
		return
	}
	c.finish(f.Result, nil)
	e.metrics.CallFinished(c.Method, metrics.OutcomeOK)
}

// Ping performs the readiness handshake: it succeeds once the counterpart answers "ping"
// with "pong".
func (e *Endpoint) Ping(ctx context.Context, timeout time.Duration) error {
	result, err := e.CallTimeout(ctx, timeout, PingMethod)
	if err != nil {
		return err
	}
	if result != PongResult {
		return fmt.Errorf("endpoint: unexpected ping reply %v", result)
	}
	return nil
}

// WaitReady pings every interval until the counterpart answers or ctx ends. It covers the
// window in which the counterpart has not attached its endpoint yet and requests are lost.
func (e *Endpoint) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		err := e.Ping(ctx, interval)
		if err == nil {
			return nil
		}
		var te *TimeoutError
		if !errors.As(err, &te) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
