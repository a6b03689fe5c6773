// Package middleware wraps the server's JSON-RPC handler in an onion of
// cross-cutting concerns: Chain(A, B)(h) runs A.before → B.before → h → B.after → A.after.
package middleware

import (
	"context"

	"github.com/julianpistorius/jsvcgen/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
