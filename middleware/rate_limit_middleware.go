package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"framebridge/message"
)

// RateLimitMiddleware caps how fast an endpoint serves requests overall, with a token bucket
// shared by every sender. Unlike the per-origin sliding window at the receive boundary,
// which drops silently, this answers with a "rate limit exceeded" error so well-behaved
// callers can back off.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Frame) *message.Frame {
			if !limiter.Allow() {
				return message.NewError(req.ID, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
