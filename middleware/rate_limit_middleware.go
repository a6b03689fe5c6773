package middleware

import (
	"context"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/julianpistorius/jsvcgen/message"
)

// RateLimitMiddleware rejects calls beyond r per second (token bucket with the given burst).
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.NewErrorResponse(req.ID, "xRateLimitExceeded", http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
