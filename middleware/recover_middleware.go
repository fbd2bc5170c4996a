package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"framebridge/message"
)

// RecoverMiddleware converts a panicking handler into an error response.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Frame) (resp *message.Frame) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panicked", zap.String("method", req.Method), zap.Any("panic", r))
					resp = message.NewError(req.ID, fmt.Sprint(r))
				}
			}()
			return next(ctx, req)
		}
	}
}
