package security

import (
	"time"

	"framebridge/message"
)

// Rejection says why an inbound message was dropped.
type Rejection int

const (
	Accepted Rejection = iota
	OriginRejected
	RateLimited
	MalformedMessage
)

func (r Rejection) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case OriginRejected:
		return "origin_rejected"
	case RateLimited:
		return "rate_limited"
	case MalformedMessage:
		return "malformed_message"
	default:
		return "unknown"
	}
}

// GuardConfig selects which checks run. The zero value allows every origin, does not rate
// limit and does not validate shapes.
type GuardConfig struct {
	AllowedOrigins   []string
	EnableRateLimit  bool
	MaxRequests      int
	TimeWindow       time.Duration
	ValidateMessages bool
}

// Guard runs the receive-boundary checks in order: origin, rate limit, shape. The first two
// run on the raw message (Admit); shape validation runs on the decoded frame (Inspect).
type Guard struct {
	origins  *OriginMatcher
	limiter  *RateLimiter
	validate bool
}

func NewGuard(cfg GuardConfig) (*Guard, error) {
	g := &Guard{
		origins:  NewOriginMatcher(cfg.AllowedOrigins),
		validate: cfg.ValidateMessages,
	}
	if cfg.EnableRateLimit {
		maxRequests, window := cfg.MaxRequests, cfg.TimeWindow
		if maxRequests == 0 {
			maxRequests = DefaultMaxRequests
		}
		if window == 0 {
			window = DefaultTimeWindow
		}
		limiter, err := NewRateLimiter(maxRequests, window)
		if err != nil {
			return nil, err
		}
		g.limiter = limiter
	}
	return g, nil
}

// Admit applies the origin allowlist and, when enabled, the per-origin rate limit.
func (g *Guard) Admit(origin string) Rejection {
	if !g.origins.Allowed(origin) {
		return OriginRejected
	}
	if g.limiter != nil && !g.limiter.Allow(origin) {
		return RateLimited
	}
	return Accepted
}

// Inspect rejects frames that cannot be correlated or dispatched, and applies full shape
// validation when enabled.
func (g *Guard) Inspect(f *message.Frame) (Rejection, error) {
	if err := WellFormed(f); err != nil {
		return MalformedMessage, err
	}
	if !g.validate {
		return Accepted, nil
	}
	if err := Validate(f); err != nil {
		return MalformedMessage, err
	}
	return Accepted, nil
}

func (g *Guard) Origins() *OriginMatcher { return g.origins }

// RateLimiter returns the limiter, nil when rate limiting is off.
func (g *Guard) RateLimiter() *RateLimiter { return g.limiter }

func (g *Guard) ValidatesMessages() bool { return g.validate }
