// Package middleware wraps the serve path of an endpoint.
//
// A HandlerFunc turns a request frame into its response frame. Middlewares compose in the
// onion model:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"framebridge/message"
)

type HandlerFunc func(ctx context.Context, req *message.Frame) *message.Frame

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one, the first being the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
