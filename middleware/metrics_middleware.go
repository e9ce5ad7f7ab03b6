package middleware

import (
	"context"
	"time"

	"xmlrpc-bridge/metrics"
)

func MetricsMiddleware(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, method string, params []any) (any, error) {
			start := time.Now()
			result, err := next(ctx, method, params)
			m.ObserveCall(method, time.Since(start), err)
			return result, err
		}
	}
}
