package middleware

import (
	"context"
	"time"

	"framebridge/message"
)

// TimeOutMiddleware bounds how long a handler may run. On expiry the caller gets a
// "request timed out" error response; the handler's context is cancelled and its eventual
// result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Frame) *message.Frame {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Frame, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewError(req.ID, "request timed out")
			}
		}
	}
}
