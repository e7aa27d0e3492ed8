package mid

import (
	"net/http"

	"github.com/aviov/largo-chat/pkg/resilience"
)

// ConcurrencyLimit rejects requests with 429 once max are in flight.
// max <= 0 disables the limit.
func ConcurrencyLimit(max int) Middleware {
	if max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	sem := make(chan struct{}, max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			case <-r.Context().Done():
			default:
				writeError(w, http.StatusTooManyRequests, "Server is busy, please try again later")
			}
		})
	}
}

// RateLimit answers 429 when l has no token. A nil limiter allows everything.
func RateLimit(l *resilience.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
