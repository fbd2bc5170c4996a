package server

import (
	"context"
	"time"

	"framebridge/endpoint"
	"framebridge/transport"
)

// ReadyMethod is the parent-side method NotifyReady calls.
const ReadyMethod = "ready"

const notifyTimeout = 2 * time.Second

// Embed is the frame-side facade: it serves methods to the parent over one channel and calls
// back into it.
type Embed struct {
	ep *endpoint.Endpoint
}

// NewEmbed attaches to the channel leading to the parent. Pass endpoint.WithTargetOrigin
// with the parent's origin to keep requests from reaching anyone else.
func NewEmbed(ch transport.Channel, opts ...endpoint.Option) (*Embed, error) {
	ep, err := endpoint.New(ch, opts...)
	if err != nil {
		return nil, err
	}
	return &Embed{ep: ep}, nil
}

func (e *Embed) Expose(name string, h endpoint.Handler) error { return e.ep.Expose(name, h) }

func (e *Embed) ExposeFunc(name string, fn any) error { return e.ep.ExposeFunc(name, fn) }

func (e *Embed) ExposeReceiver(rcvr any) ([]string, error) { return e.ep.ExposeReceiver(rcvr) }

// Call invokes a method the parent exposed.
func (e *Embed) Call(ctx context.Context, method string, args ...any) (any, error) {
	return e.ep.Call(ctx, method, args...)
}

// NotifyReady tells the parent the frame is up, passing the exposed method names. Parents
// that do not expose ReadyMethod answer with an error, which callers may ignore.
func (e *Embed) NotifyReady(ctx context.Context) error {
	_, err := e.ep.CallTimeout(ctx, notifyTimeout, ReadyMethod, e.ep.Methods())
	return err
}

func (e *Embed) Endpoint() *endpoint.Endpoint { return e.ep }

func (e *Embed) Destroy() { e.ep.Destroy() }
