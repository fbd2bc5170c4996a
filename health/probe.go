package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupported is returned by a probe that cannot check this target; Chain then moves on
// to its next stage.
var ErrUnsupported = errors.New("health: probe not supported for target")

// Probe checks once whether a target responds. It must honour ctx's deadline.
type Probe interface {
	Probe(ctx context.Context) error
}

type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// Pinger is implemented by *endpoint.Endpoint.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) error
}

// PingProbe probes by sending a ping request and racing it against the probe deadline.
func PingProbe(p Pinger) Probe {
	return ProbeFunc(func(ctx context.Context) error {
		var timeout time.Duration
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return context.DeadlineExceeded
			}
		}
		return p.Ping(ctx, timeout)
	})
}

// Chain is the best-effort probe cascade: check the target directly when it is reachable in
// process, otherwise ping it, otherwise assume it is healthy once Grace has passed without an
// error. A stage that is nil or returns ErrUnsupported defers to the next one.
type Chain struct {
	Direct Probe
	Ping   Probe
	Grace  time.Duration
}

func (c Chain) Probe(ctx context.Context) error {
	for _, p := range []Probe{c.Direct, c.Ping} {
		if p == nil {
			continue
		}
		if err := p.Probe(ctx); !errors.Is(err, ErrUnsupported) {
			return err
		}
	}

	if c.Grace <= 0 {
		return nil
	}
	t := time.NewTimer(c.Grace)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PanicError carries a panic raised inside a probe.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("health: probe panicked: %v", e.Value) }

// Unwrap exposes a panic value that is itself an error (runtime errors included) to Classify.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
