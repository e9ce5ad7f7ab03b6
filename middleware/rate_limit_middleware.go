package middleware

import (
	"context"

	"github.com/juju/errors"
	"golang.org/x/time/rate"
)

const ErrRateLimited = errors.ConstError("rate limit exceeded")

// RateLimitMiddleware rejects calls beyond r per second with bursts of burst,
// using a token bucket. Rejected calls never reach the wire.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, method string, params []any) (any, error) {
			if !limiter.Allow() {
				return nil, errors.Annotatef(ErrRateLimited, "calling %q", method)
			}
			return next(ctx, method, params)
		}
	}
}
