package security

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
)

// Reference defaults for the per-origin sliding window.
const (
	DefaultMaxRequests = 100
	DefaultTimeWindow  = 60 * time.Second
)

// RateLimiter is a sliding-window counter keyed by sender origin. Each origin keeps the
// timestamps of its recent messages; timestamps older than the window are pruned on every
// check, and a message is refused when the window already holds the ceiling.
type RateLimiter struct {
	limiter     *catrate.Limiter
	maxRequests int
	window      time.Duration
}

func NewRateLimiter(maxRequests int, window time.Duration) (*RateLimiter, error) {
	if maxRequests <= 0 {
		return nil, fmt.Errorf("security: max requests must be positive, got %d", maxRequests)
	}
	if window <= 0 {
		return nil, fmt.Errorf("security: time window must be positive, got %s", window)
	}
	return &RateLimiter{
		limiter:     catrate.NewLimiter(map[time.Duration]int{window: maxRequests}),
		maxRequests: maxRequests,
		window:      window,
	}, nil
}

// Allow records a message from origin, reporting false if the origin is over its ceiling.
// Refused messages are not recorded.
func (l *RateLimiter) Allow(origin string) bool {
	_, ok := l.limiter.Allow(origin)
	return ok
}

func (l *RateLimiter) MaxRequests() int { return l.maxRequests }

func (l *RateLimiter) Window() time.Duration { return l.window }
