// Package server hosts exposed methods for remote frames.
//
// A Server accepts WebSocket connections on /ws and serves one shared method registry to all
// of them, each connection getting its own endpoint:
//
//	Accept /ws → Upgrade → endpoint (shared registry) → middleware chain → handler
//
// Besides /ws it answers /health, / (capability summary) and /metrics, optionally advertises
// itself in a registry, and shuts down gracefully.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"framebridge/codec"
	"framebridge/endpoint"
	"framebridge/message"
	"framebridge/metrics"
	"framebridge/middleware"
	"framebridge/registry"
	"framebridge/security"
	"framebridge/transport"
)

const (
	WsPath      = "/ws"
	HealthPath  = "/health"
	MetricsPath = "/metrics"

	DefaultAdvertiseTTL = 10
)

// Options configures a Server.
type Options struct {
	Security    security.GuardConfig
	Codec       codec.CodecType
	CallTimeout time.Duration
	// CheckOrigin refuses the WebSocket handshake for origins outside the allowlist instead of
	// dropping their messages later.
	CheckOrigin bool
	// HandlerRate caps served requests per second across all connections; 0 disables it.
	HandlerRate  float64
	HandlerBurst int

	Version      string
	AdvertiseTTL int64 // lease in seconds of the registry entry written by Serve

	Logger *zap.Logger
	// Registerer receives the metrics; a private registry is used when nil.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type Server struct {
	opts    Options
	log     *zap.Logger
	methods *endpoint.MethodRegistry
	origins *security.OriginMatcher
	metrics *metrics.Collectors
	router  *mux.Router
	started time.Time

	middlewares []middleware.Middleware
	handlerOnce sync.Once
	chain       middleware.Middleware

	shutdown atomic.Bool
	inflight atomic.Int64 // requests being served, for graceful shutdown

	mu       sync.Mutex // protects following
	conns    map[*transport.WSChannel]*endpoint.Endpoint
	httpSrv  *http.Server
	listener net.Listener
	registry registry.Registry
	service  string
	// advertiseAddr is the ws:// URL registered for this host
	advertiseAddr string
}

func NewServer(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.AdvertiseTTL <= 0 {
		opts.AdvertiseTTL = DefaultAdvertiseTTL
	}
	if _, err := security.NewGuard(opts.Security); err != nil {
		return nil, err
	}

	col := metrics.New()
	reg, gatherer := opts.Registerer, opts.Gatherer
	if reg == nil {
		private := prometheus.NewRegistry()
		reg, gatherer = private, private
	}
	if err := col.Register(reg); err != nil {
		return nil, fmt.Errorf("server: register metrics: %w", err)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	svr := &Server{
		opts:    opts,
		log:     opts.Logger.Named("server"),
		methods: endpoint.NewMethodRegistry(),
		origins: security.NewOriginMatcher(opts.Security.AllowedOrigins),
		metrics: col,
		started: time.Now(),
		conns:   make(map[*transport.WSChannel]*endpoint.Endpoint),
	}
	svr.router = svr.newRouter(gatherer)
	return svr, nil
}

// Register exposes the suitable methods of rcvr as "Type.Method".
func (svr *Server) Register(rcvr any) ([]string, error) {
	return svr.methods.RegisterReceiver(rcvr)
}

func (svr *Server) Expose(name string, h endpoint.Handler) error {
	return svr.methods.Register(name, h)
}

func (svr *Server) ExposeFunc(name string, fn any) error {
	return svr.methods.RegisterFunc(name, fn)
}

// Methods lists the exposed method names.
func (svr *Server) Methods() []string { return svr.methods.Names() }

// Use appends a middleware. Middlewares must be added before the first connection arrives.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Handler returns the HTTP handler, for mounting the server in another mux or in tests.
func (svr *Server) Handler() http.Handler { return svr.router }

// Serve listens on address and serves until Shutdown. When reg is non-nil the server is
// advertised under service at advertiseAddr (a ws:// URL reachable by clients).
func (svr *Server) Serve(network, address, advertiseAddr string, reg registry.Registry, service string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Handler:           svr.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	svr.mu.Lock()
	svr.listener, svr.httpSrv = listener, httpSrv
	svr.mu.Unlock()

	if reg != nil {
		origin, err := transport.OriginOf(advertiseAddr)
		if err != nil {
			listener.Close()
			return err
		}
		instance := registry.Instance{Addr: advertiseAddr, Origin: origin, Weight: 1, Version: svr.opts.Version}
		if err := reg.Register(context.Background(), service, instance, svr.opts.AdvertiseTTL); err != nil {
			listener.Close()
			return fmt.Errorf("server: advertise: %w", err)
		}
		svr.mu.Lock()
		svr.registry, svr.service, svr.advertiseAddr = reg, service, advertiseAddr
		svr.mu.Unlock()
	}

	svr.log.Info("bridge host listening", zap.Stringer("addr", listener.Addr()))
	err = httpSrv.Serve(listener)
	if svr.shutdown.Load() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr is the listening address once Serve has started.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// handler returns the serve-side chain shared by all connections: in-flight tracking
// outermost, then logging, the optional rate limit and the user middlewares.
func (svr *Server) handler() middleware.Middleware {
	svr.handlerOnce.Do(func() {
		mws := []middleware.Middleware{svr.track, middleware.LoggingMiddleware(svr.log)}
		if svr.opts.HandlerRate > 0 {
			mws = append(mws, middleware.RateLimitMiddleware(svr.opts.HandlerRate, svr.opts.HandlerBurst))
		}
		mws = append(mws, svr.middlewares...)
		svr.chain = middleware.Chain(mws...)
	})
	return svr.chain
}

func (svr *Server) track(next middleware.HandlerFunc) middleware.HandlerFunc {
	return func(ctx context.Context, req *message.Frame) *message.Frame {
		if svr.shutdown.Load() {
			return message.NewError(req.ID, "server shutting down")
		}
		svr.inflight.Add(1)
		defer svr.inflight.Add(-1)
		return next(ctx, req)
	}
}

// accept binds an endpoint to a fresh connection and tears it down when the peer goes away.
func (svr *Server) accept(ch *transport.WSChannel) error {
	ep, err := endpoint.New(ch,
		endpoint.WithMethods(svr.methods),
		endpoint.WithSecurity(svr.opts.Security),
		endpoint.WithCodec(svr.opts.Codec),
		endpoint.WithCallTimeout(svr.opts.CallTimeout),
		endpoint.WithMiddleware(svr.handler()),
		endpoint.WithMetrics(svr.metrics),
		endpoint.WithLogger(svr.log.With(zap.String("peer", ch.Origin()))),
	)
	if err != nil {
		return err
	}

	svr.mu.Lock()
	svr.conns[ch] = ep
	svr.mu.Unlock()

	go func() {
		<-ch.Done()
		ep.Destroy()
		svr.mu.Lock()
		delete(svr.conns, ch)
		svr.mu.Unlock()
		svr.log.Debug("connection closed", zap.String("peer", ch.Origin()), zap.Error(ch.Err()))
	}()
	return nil
}

// busy reports whether a request is still running or its reply has not been written.
func (svr *Server) busy() bool {
	if svr.inflight.Load() > 0 {
		return true
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	for _, ep := range svr.conns {
		if ep.Stats().Serving > 0 {
			return true
		}
	}
	return false
}

// Connections is the number of open WebSocket connections.
func (svr *Server) Connections() int {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	return len(svr.conns)
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry, so clients stop picking this host
//  2. Stop accepting connections
//  3. Wait for in-flight requests to finish (with timeout)
//  4. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	reg, service, addr := svr.registry, svr.service, svr.advertiseAddr
	svr.mu.Unlock()
	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := reg.Deregister(ctx, service, addr); err != nil {
			svr.log.Warn("deregister failed", zap.Error(err))
		}
		cancel()
	}

	// set the flag before closing so Serve reports a clean exit
	svr.shutdown.Store(true)
	svr.mu.Lock()
	httpSrv := svr.httpSrv
	svr.mu.Unlock()
	if httpSrv != nil {
		// hijacked WebSocket connections are not tracked by http.Server, so this returns
		// once the listener is closed
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := httpSrv.Shutdown(ctx)
		cancel()
		if err != nil {
			return err
		}
	}

	var err error
	deadline := time.Now().Add(timeout)
	for svr.busy() {
		if time.Now().After(deadline) {
			err = fmt.Errorf("timeout waiting for ongoing requests to finish")
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	svr.mu.Lock()
	conns := make([]*transport.WSChannel, 0, len(svr.conns))
	for ch := range svr.conns {
		conns = append(conns, ch)
	}
	svr.mu.Unlock()
	for _, ch := range conns {
		ch.Close()
	}
	return err
}
