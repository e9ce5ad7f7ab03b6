package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, method string, params []any) (any, error) {
			start := time.Now()
			result, err := next(ctx, method, params)
			fields := []zap.Field{
				zap.String("method", method),
				zap.Int("params", len(params)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Debug("xmlrpc call failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("xmlrpc call", fields...)
			}
			return result, err
		}
	}
}
