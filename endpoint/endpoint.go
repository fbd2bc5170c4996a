// Package endpoint implements request/response RPC over a transport.Channel.
//
// An Endpoint is symmetric: it calls methods on its counterpart and serves the methods
// exposed on it, over the same channel. Outbound requests are correlated with their
// responses by a random ID; inbound messages pass the security guard (origin allowlist,
// per-origin rate limit, shape validation) before they are dispatched. Messages that fail
// a check are dropped and never answered.
package endpoint

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"framebridge/codec"
	"framebridge/message"
	"framebridge/metrics"
	"framebridge/middleware"
	"framebridge/security"
	"framebridge/transport"
)

const (
	// PingMethod is answered with PongResult unless a handler replaces it.
	PingMethod = "ping"
	PongResult = "pong"
)

type Endpoint struct {
	ch           transport.Channel
	target       transport.Sender
	targetOrigin string
	codec        codec.Codec
	callTimeout  time.Duration
	guard        *security.Guard
	methods      *MethodRegistry
	ownsMethods  bool
	handler      middleware.HandlerFunc
	log          *zap.Logger
	metrics      *metrics.Collectors
	newID        func() string

	ctx    context.Context // cancelled by Destroy; handler contexts derive from it
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   map[string]*Call
	destroyed bool
	remove    func()

	sent     atomic.Uint64
	matched  atomic.Uint64
	timedOut atomic.Uint64
	served   atomic.Uint64
	serving  atomic.Int64
	dropped  [4]atomic.Uint64 // indexed by security.Rejection
}

// New attaches an endpoint to ch. Unless WithTarget says otherwise, requests go out on ch
// itself with target origin "*".
func New(ch transport.Channel, opts ...Option) (*Endpoint, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	guard, err := security.NewGuard(o.guard)
	if err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.L()
	}

	e := &Endpoint{
		ch:           ch,
		target:       o.target,
		targetOrigin: o.targetOrigin,
		codec:        codec.GetCodec(o.codecType),
		callTimeout:  o.callTimeout,
		guard:        guard,
		methods:      o.methods,
		log:          logger.Named("endpoint"),
		metrics:      o.metrics,
		newID:        o.newID,
		pending:      make(map[string]*Call),
	}
	if e.target == nil {
		e.target = ch
	}
	if e.methods == nil {
		e.methods = NewMethodRegistry()
		e.ownsMethods = true
	}

	mws := append([]middleware.Middleware{middleware.RecoverMiddleware(e.log)}, o.middlewares...)
	e.handler = middleware.Chain(mws...)(e.dispatch)

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.remove = ch.OnMessage(e.receive)
	return e, nil
}

// Expose registers h under name, replacing any previous handler (including the built-in ping).
func (e *Endpoint) Expose(name string, h Handler) error {
	return e.methods.Register(name, h)
}

// ExposeFunc registers a typed Go function; see MethodRegistry.RegisterFunc.
func (e *Endpoint) ExposeFunc(name string, fn any) error {
	return e.methods.RegisterFunc(name, fn)
}

// ExposeReceiver registers the suitable methods of rcvr as "Type.Method".
func (e *Endpoint) ExposeReceiver(rcvr any) ([]string, error) {
	return e.methods.RegisterReceiver(rcvr)
}

func (e *Endpoint) Unexpose(name string) {
	e.methods.Unregister(name)
}

// Methods lists the exposed method names.
func (e *Endpoint) Methods() []string {
	return e.methods.Names()
}

// Guard exposes the security configuration in effect.
func (e *Endpoint) Guard() *security.Guard { return e.guard }

// Destroy detaches from the channel and fails every pending call with ErrDestroyed. Handlers
// still running see their context cancelled and their replies are discarded. It is safe to
// call more than once.
func (e *Endpoint) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	pending := e.pending
	e.pending = make(map[string]*Call)
	remove := e.remove
	e.mu.Unlock()

	remove()
	e.cancel()
	if e.ownsMethods {
		e.methods.Clear()
	}

	for _, c := range pending {
		c.timer.Stop()
		c.finish(nil, ErrDestroyed)
		e.metrics.CallFinished(c.Method, metrics.OutcomeDestroyed)
	}
	e.log.Debug("endpoint destroyed", zap.Int("rejected", len(pending)))
}

// Destroyed reports whether Destroy has been called.
func (e *Endpoint) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

type Stats struct {
	Pending          int
	Serving          int64 // requests whose reply has not gone out yet
	Sent             uint64
	Matched          uint64
	TimedOut         uint64
	Served           uint64
	OriginRejected   uint64
	RateLimited      uint64
	MalformedDropped uint64
}

func (e *Endpoint) Stats() Stats {
	e.mu.Lock()
	pending := len(e.pending)
	e.mu.Unlock()
	return Stats{
		Pending:          pending,
		Serving:          e.serving.Load(),
		Sent:             e.sent.Load(),
		Matched:          e.matched.Load(),
		TimedOut:         e.timedOut.Load(),
		Served:           e.served.Load(),
		OriginRejected:   e.dropped[security.OriginRejected].Load(),
		RateLimited:      e.dropped[security.RateLimited].Load(),
		MalformedDropped: e.dropped[security.MalformedMessage].Load(),
	}
}

// receive is the channel handler. Nothing that arrives here may take the endpoint down.
func (e *Endpoint) receive(ev transport.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic while receiving message", zap.String("origin", ev.Origin), zap.Any("panic", r))
		}
	}()

	if rej := e.guard.Admit(ev.Origin); rej != security.Accepted {
		e.drop(rej, ev.Origin, nil)
		return
	}

	var f message.Frame
	if err := e.codec.Decode(ev.Data, &f); err != nil {
		e.drop(security.MalformedMessage, ev.Origin, err)
		return
	}
	if rej, err := e.guard.Inspect(&f); rej != security.Accepted {
		e.drop(rej, ev.Origin, err)
		return
	}

	switch f.Type {
	case message.TypeRequest:
		e.mu.Lock()
		if e.destroyed {
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
		e.serving.Add(1)
		go e.serve(ev, &f)
	case message.TypeResponse:
		e.resolve(&f)
	default:
		e.drop(security.MalformedMessage, ev.Origin, fmt.Errorf("unknown message type %q", f.Type))
	}
}

func (e *Endpoint) drop(reason security.Rejection, origin string, err error) {
	e.dropped[reason].Add(1)
	e.metrics.Dropped(reason.String())

	fields := []zap.Field{zap.String("origin", origin), zap.Stringer("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if reason == security.RateLimited {
		e.log.Warn("message dropped", fields...)
		return
	}
	e.log.Debug("message dropped", fields...)
}

// serve runs the handler chain and replies to the sender of ev.
func (e *Endpoint) serve(ev transport.Event, req *message.Frame) {
	defer e.serving.Add(-1)
	resp := e.handler(e.ctx, req)
	if resp == nil {
		resp = message.NewError(req.ID, "no response produced")
	}
	resp.ReplyTo(req)

	e.served.Add(1)
	e.metrics.Served(req.Method, resp.Failed())

	if e.ctx.Err() != nil {
		return
	}

	payload, err := e.codec.Encode(resp)
	if err != nil {
		e.log.Warn("result not encodable", zap.String("method", req.Method), zap.Error(err))
		payload, err = e.codec.Encode(message.NewError(req.ID, "result could not be encoded: "+err.Error()).ReplyTo(req))
		if err != nil {
			return
		}
	}

	if ev.Source == nil {
		e.log.Warn("request without reply handle", zap.String("method", req.Method), zap.String("origin", ev.Origin))
		return
	}
	if err := ev.Source.Send(payload, ev.Origin); err != nil {
		e.log.Warn("sending response failed", zap.String("method", req.Method), zap.Error(err))
	}
}

// dispatch is the innermost handler: look the method up and run it.
func (e *Endpoint) dispatch(ctx context.Context, req *message.Frame) *message.Frame {
	h, ok := e.methods.Lookup(req.Method)
	if !ok {
		return message.NewError(req.ID, fmt.Sprintf("Method '%s' not found", req.Method))
	}

	result, err := h(ctx, req.Args)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "handler failed"
		}
		return message.NewError(req.ID, msg)
	}
	return message.NewResult(req.ID, result)
}
