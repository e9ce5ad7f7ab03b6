package middleware

import (
	"context"
)

// HandlerFunc performs one outbound XML-RPC call.
type HandlerFunc func(ctx context.Context, method string, params []any) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one given is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
