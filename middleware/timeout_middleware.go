package middleware

import (
	"context"
	"time"

	"github.com/juju/errors"
)

// TimeOutMiddleware bounds each call. A call that outlives the deadline fails
// with an error satisfying errors.Is(err, context.DeadlineExceeded); its late
// result is dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, method string, params []any) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				value any
				err   error
			}
			done := make(chan result, 1)
			go func() {
				value, err := next(ctx, method, params)
				done <- result{value, err}
			}()

			select {
			case r := <-done:
				return r.value, r.err
			case <-ctx.Done():
				return nil, errors.Annotatef(ctx.Err(), "%q timed out after %s", method, timeout)
			}
		}
	}
}
