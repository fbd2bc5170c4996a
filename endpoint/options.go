package endpoint

import (
	"time"

	"go.uber.org/zap"

	"framebridge/codec"
	"framebridge/metrics"
	"framebridge/middleware"
	"framebridge/security"
	"framebridge/transport"
)

// DefaultCallTimeout bounds a call made without an explicit timeout.
const DefaultCallTimeout = 10 * time.Second

type options struct {
	target       transport.Sender
	targetOrigin string
	codecType    codec.CodecType
	callTimeout  time.Duration
	guard        security.GuardConfig
	methods      *MethodRegistry
	middlewares  []middleware.Middleware
	logger       *zap.Logger
	metrics      *metrics.Collectors
	newID        func() string
}

func defaultOptions() options {
	return options{
		targetOrigin: transport.AnyOrigin,
		codecType:    codec.CodecTypeJSON,
		callTimeout:  DefaultCallTimeout,
		guard: security.GuardConfig{
			AllowedOrigins: []string{security.Wildcard},
		},
		newID: security.NewCorrelationID,
	}
}

type Option func(*options)

// WithTarget sends requests to s instead of the endpoint's own channel, restricted to
// receivers whose origin is targetOrigin ("*" for any).
func WithTarget(s transport.Sender, targetOrigin string) Option {
	return func(o *options) {
		o.target = s
		o.targetOrigin = targetOrigin
	}
}

func WithTargetOrigin(origin string) Option {
	return func(o *options) { o.targetOrigin = origin }
}

func WithCodec(t codec.CodecType) Option {
	return func(o *options) { o.codecType = t }
}

// WithCallTimeout sets the default deadline of Call. Non-positive values are ignored.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithSecurity configures the receive-boundary checks.
func WithSecurity(cfg security.GuardConfig) Option {
	return func(o *options) { o.guard = cfg }
}

func WithAllowedOrigins(origins ...string) Option {
	return func(o *options) { o.guard.AllowedOrigins = origins }
}

func WithRateLimit(maxRequests int, window time.Duration) Option {
	return func(o *options) {
		o.guard.EnableRateLimit = true
		o.guard.MaxRequests = maxRequests
		o.guard.TimeWindow = window
	}
}

func WithMessageValidation(enabled bool) Option {
	return func(o *options) { o.guard.ValidateMessages = enabled }
}

// WithMethods serves from a registry shared with other endpoints. Destroy leaves a shared
// registry untouched.
func WithMethods(r *MethodRegistry) Option {
	return func(o *options) { o.methods = r }
}

// WithMiddleware wraps the serve path; the first middleware is the outermost.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(c *metrics.Collectors) Option {
	return func(o *options) { o.metrics = c }
}

// WithIDGenerator replaces the correlation ID source.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}
