// Package client is the parent-side facade: it attaches frames, makes sure each one is
// ready, calls into them and keeps an eye on their health.
//
//	Manager ── Attach("editor", ch) ──► endpoint over ch ── ping/pong handshake ──► ready
//	        ── Discover("editor")   ──► registry → balancer → WebSocket dial → Attach
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"framebridge/endpoint"
	"framebridge/health"
	"framebridge/loadbalance"
	"framebridge/metrics"
	"framebridge/registry"
	"framebridge/retry"
	"framebridge/transport"
)

var (
	ErrUnknownFrame = errors.New("client: unknown frame")
	ErrFrameExists  = errors.New("client: frame already attached")
	ErrNoRegistry   = errors.New("client: no registry configured")
)

// Mode says how calls reach a frame.
type Mode int

const (
	// ModeRPC frames are reached through messages over a channel.
	ModeRPC Mode = iota
	// ModeDirect frames share the caller's origin and process; calls invoke their handlers
	// in place.
	ModeDirect
)

func (m Mode) String() string {
	if m == ModeDirect {
		return "direct"
	}
	return "rpc"
}

// DirectAccessor exposes a same-origin frame's handlers. *endpoint.MethodRegistry
// implements it.
type DirectAccessor interface {
	Lookup(method string) (endpoint.Handler, bool)
}

// Options configures a Manager. Zero values take the defaults noted per field.
type Options struct {
	// Endpoint options applied to every frame's endpoint.
	Endpoint []endpoint.Option

	// SetupTimeout bounds the readiness handshake, 5s by default.
	SetupTimeout time.Duration

	// Health enables monitoring of every attached frame when non-nil.
	Health *health.Config
	// HealthGrace is the optimistic fallback of the probe chain.
	HealthGrace time.Duration

	// Registry, Balancer and Service drive Discover. Balancer defaults to consistent hashing
	// on the frame id.
	Registry registry.Registry
	Balancer loadbalance.Balancer
	Service  string
	// Origin is presented to bridge hosts when dialing them.
	Origin string

	Logger  *zap.Logger
	Metrics *metrics.Collectors
}

const DefaultSetupTimeout = 5 * time.Second

// Frame is one attached counterpart.
type Frame struct {
	ID     string
	Mode   Mode
	Origin string // origin requests are addressed to

	endpoint *endpoint.Endpoint
	direct   DirectAccessor
	closer   io.Closer
}

// Endpoint returns the frame's endpoint, nil for a direct frame attached without a channel.
func (f *Frame) Endpoint() *endpoint.Endpoint { return f.endpoint }

type Manager struct {
	opts   Options
	log    *zap.Logger
	health *health.Manager

	mu      sync.Mutex
	frames  map[string]*Frame
	exposed map[string]endpoint.Handler // applied to every frame, present and future
}

func New(opts Options) *Manager {
	if opts.SetupTimeout <= 0 {
		opts.SetupTimeout = DefaultSetupTimeout
	}
	if opts.Balancer == nil {
		opts.Balancer = loadbalance.NewConsistentHashBalancer()
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}

	var hcfg health.Config
	if opts.Health != nil {
		hcfg = *opts.Health
	}
	if hcfg.Logger == nil {
		hcfg.Logger = opts.Logger
	}
	if hcfg.Metrics == nil {
		hcfg.Metrics = opts.Metrics
	}

	return &Manager{
		opts:    opts,
		log:     opts.Logger.Named("client"),
		health:  health.NewManager(hcfg),
		frames:  make(map[string]*Frame),
		exposed: make(map[string]endpoint.Handler),
	}
}

type attachOptions struct {
	direct       DirectAccessor
	targetOrigin string
	handshake    bool
	endpointOpts []endpoint.Option
	closer       io.Closer
}

type AttachOption func(*attachOptions)

// WithDirect attaches a same-origin frame in ModeDirect.
func WithDirect(a DirectAccessor) AttachOption {
	return func(o *attachOptions) { o.direct = a }
}

// WithTargetOrigin restricts requests to a receiver of the given origin.
func WithTargetOrigin(origin string) AttachOption {
	return func(o *attachOptions) { o.targetOrigin = origin }
}

// WithoutHandshake skips waiting for the frame to answer ping.
func WithoutHandshake() AttachOption {
	return func(o *attachOptions) { o.handshake = false }
}

// WithEndpointOptions adds options for this frame's endpoint only.
func WithEndpointOptions(opts ...endpoint.Option) AttachOption {
	return func(o *attachOptions) { o.endpointOpts = append(o.endpointOpts, opts...) }
}

// WithCloser hands ownership of c to the frame; it is closed on Detach.
func WithCloser(c io.Closer) AttachOption {
	return func(o *attachOptions) { o.closer = c }
}

// Attach binds a frame reached over ch. Unless WithoutHandshake is given, it blocks until
// the frame answers ping or the setup timeout passes. ch may be nil for a direct frame.
func (m *Manager) Attach(ctx context.Context, id string, ch transport.Channel, opts ...AttachOption) (*Frame, error) {
	ao := attachOptions{targetOrigin: transport.AnyOrigin, handshake: true}
	for _, opt := range opts {
		opt(&ao)
	}

	f := &Frame{ID: id, Origin: ao.targetOrigin, direct: ao.direct, closer: ao.closer}
	if ao.direct != nil {
		f.Mode = ModeDirect
	} else if ch == nil {
		return nil, fmt.Errorf("client: frame %s: no channel and no direct accessor", id)
	}

	if _, err := m.frame(id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrFrameExists, id)
	}

	// the frame is complete before it is published, so Call and Expose never see it half built
	if ch != nil {
		epOpts := []endpoint.Option{
			endpoint.WithTargetOrigin(ao.targetOrigin),
			endpoint.WithLogger(m.opts.Logger.With(zap.String("frame", id))),
			endpoint.WithMetrics(m.opts.Metrics),
		}
		epOpts = append(epOpts, m.opts.Endpoint...)
		epOpts = append(epOpts, ao.endpointOpts...)

		ep, err := endpoint.New(ch, epOpts...)
		if err != nil {
			f.release()
			return nil, err
		}
		f.endpoint = ep
	}

	m.mu.Lock()
	if _, ok := m.frames[id]; ok {
		m.mu.Unlock()
		if f.endpoint != nil {
			f.endpoint.Destroy()
		}
		return nil, fmt.Errorf("%w: %s", ErrFrameExists, id)
	}
	// handlers are applied under the lock so none exposed concurrently is missed
	if f.endpoint != nil {
		for name, h := range m.exposed {
			if err := f.endpoint.Expose(name, h); err != nil {
				m.mu.Unlock()
				f.release()
				return nil, err
			}
		}
	}
	m.frames[id] = f
	m.mu.Unlock()

	fail := func(err error) (*Frame, error) {
		m.mu.Lock()
		if m.frames[id] == f {
			delete(m.frames, id)
		}
		m.mu.Unlock()
		f.release()
		return nil, err
	}

	if ao.handshake && f.Mode == ModeRPC {
		sctx, cancel := context.WithTimeout(ctx, m.opts.SetupTimeout)
		err := f.endpoint.WaitReady(sctx, handshakeInterval(m.opts.SetupTimeout))
		cancel()
		if err != nil {
			return fail(fmt.Errorf("client: frame %s not ready: %w", id, err))
		}
	}

	if m.opts.Health != nil {
		m.health.Start(id, m.probeFor(f), health.Config{})
	}

	m.log.Info("frame attached", zap.String("frame", id), zap.Stringer("mode", f.Mode))
	return f, nil
}

func handshakeInterval(setup time.Duration) time.Duration {
	interval := setup / 10
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	if interval > 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	return interval
}

// probeFor builds the probe cascade: direct ping for same-origin frames, RPC ping when an
// endpoint exists, then the grace period.
func (m *Manager) probeFor(f *Frame) health.Probe {
	chain := health.Chain{Grace: m.opts.HealthGrace}
	if f.direct != nil {
		chain.Direct = health.ProbeFunc(func(ctx context.Context) error {
			h, ok := f.direct.Lookup(endpoint.PingMethod)
			if !ok {
				return health.ErrUnsupported
			}
			_, err := invokeDirect(ctx, endpoint.PingMethod, h, nil)
			return err
		})
	}
	if f.endpoint != nil {
		chain.Ping = health.PingProbe(f.endpoint)
	}
	return chain
}

func (f *Frame) release() {
	if f.endpoint != nil {
		f.endpoint.Destroy()
	}
	if f.closer != nil {
		f.closer.Close()
	}
}

func (m *Manager) frame(id string) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.frames[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFrame, id)
	}
	return f, nil
}

// Frame returns the attached frame with the given id.
func (m *Manager) Frame(id string) (*Frame, bool) {
	f, err := m.frame(id)
	return f, err == nil
}

// Call invokes method on frame id.
func (m *Manager) Call(ctx context.Context, id, method string, args ...any) (any, error) {
	f, err := m.frame(id)
	if err != nil {
		return nil, err
	}
	if f.Mode == ModeDirect {
		if method == "" {
			return nil, endpoint.ErrEmptyMethod
		}
		h, ok := f.direct.Lookup(method)
		if !ok {
			return nil, &endpoint.RemoteError{Method: method, Message: fmt.Sprintf("Method '%s' not found", method)}
		}
		return invokeDirect(ctx, method, h, args)
	}
	return f.endpoint.Call(ctx, method, args...)
}

// invokeDirect runs a same-origin handler, reporting its failures the way a remote call would.
func invokeDirect(ctx context.Context, method string, h endpoint.Handler, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &endpoint.RemoteError{Method: method, Message: fmt.Sprint(r)}
		}
	}()
	if args == nil {
		args = []any{}
	}
	result, err = h(ctx, args)
	if err != nil {
		return nil, &endpoint.RemoteError{Method: method, Message: err.Error()}
	}
	return result, nil
}

// CallWithRetry is Call wrapped in retry.Do. Without a ShouldRetry, only timeouts and send
// failures are retried.
func (m *Manager) CallWithRetry(ctx context.Context, id, method string, opts retry.Options, args ...any) (any, error) {
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = endpoint.Retryable
	}
	return retry.Do(ctx, func(ctx context.Context) (any, error) {
		return m.Call(ctx, id, method, args...)
	}, opts)
}

// Expose offers h to every frame, including frames attached later.
func (m *Manager) Expose(name string, h endpoint.Handler) error {
	if name == "" {
		return endpoint.ErrEmptyMethod
	}
	m.mu.Lock()
	m.exposed[name] = h
	frames := m.snapshot()
	m.mu.Unlock()

	for _, f := range frames {
		if f.endpoint == nil {
			continue
		}
		if err := f.endpoint.Expose(name, h); err != nil {
			return err
		}
	}
	return nil
}

// ExposeTo offers h to one frame only.
func (m *Manager) ExposeTo(id, name string, h endpoint.Handler) error {
	f, err := m.frame(id)
	if err != nil {
		return err
	}
	if f.endpoint == nil {
		return fmt.Errorf("client: frame %s has no channel to serve on", id)
	}
	return f.endpoint.Expose(name, h)
}

func (m *Manager) snapshot() []*Frame {
	out := make([]*Frame, 0, len(m.frames))
	for _, f := range m.frames {
		out = append(out, f)
	}
	return out
}

// Detach stops monitoring frame id, destroys its endpoint and releases its channel.
func (m *Manager) Detach(id string) error {
	m.mu.Lock()
	f, ok := m.frames[id]
	delete(m.frames, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFrame, id)
	}

	m.health.Stop(id)
	f.release()
	m.log.Info("frame detached", zap.String("frame", id))
	return nil
}

// Frames lists the attached frame ids, sorted.
func (m *Manager) Frames() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.frames))
	for id := range m.frames {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Health returns the monitor state of every monitored frame.
func (m *Manager) Health() []health.Snapshot {
	return m.health.Snapshots()
}

// Close detaches every frame.
func (m *Manager) Close() {
	m.mu.Lock()
	frames := m.frames
	m.frames = make(map[string]*Frame)
	m.mu.Unlock()

	m.health.StopAll()
	for _, f := range frames {
		f.release()
	}
}

// Discover finds a bridge host for frame id in the registry, dials it and attaches it.
func (m *Manager) Discover(ctx context.Context, id string, opts ...AttachOption) (*Frame, error) {
	if m.opts.Registry == nil {
		return nil, ErrNoRegistry
	}

	instances, err := m.opts.Registry.Discover(ctx, m.opts.Service)
	if err != nil {
		return nil, err
	}
	instance, err := m.opts.Balancer.Pick(id, instances)
	if err != nil {
		return nil, fmt.Errorf("client: pick host for %s: %w", id, err)
	}

	ws, err := transport.Dial(ctx, instance.Addr, m.opts.Origin)
	if err != nil {
		return nil, err
	}
	m.log.Debug("bridge host picked", zap.String("frame", id), zap.String("addr", instance.Addr),
		zap.String("balancer", m.opts.Balancer.Name()))

	opts = append([]AttachOption{WithTargetOrigin(ws.Origin()), WithCloser(ws)}, opts...)
	return m.Attach(ctx, id, ws, opts...)
}
