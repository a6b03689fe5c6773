package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/julianpistorius/jsvcgen/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Int64("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Error != nil {
				logger.Warn("call failed", append(fields,
					zap.String("errorName", resp.Error.Name),
					zap.String("errorCode", resp.Error.Code),
					zap.String("errorMessage", resp.Error.Message))...)
				return resp
			}
			logger.Info("call", fields...)
			return resp
		}
	}
}
