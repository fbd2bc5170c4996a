package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"framebridge/message"
)

// LoggingMiddleware logs every served request with its duration and outcome.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Frame) *message.Frame {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Failed() {
				logger.Debug("request failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				logger.Debug("request served", fields...)
			}
			return resp
		}
	}
}
