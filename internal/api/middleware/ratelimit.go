package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/wardline/authcore/internal/api/helpers"
	"github.com/wardline/authcore/internal/ratelimit"
)

// RateLimit gates requests through the risk-aware limiter (C7), keyed by
// the caller's real IP. 429 on rejection carries a Retry-After header set
// to the limiter's reported wait, so a well-behaved client backs off
// instead of retrying immediately into the same window.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := helpers.GetRealIP(r)
			identifier := ip.String()
			allowed, retryAfter := limiter.Allow(r.Context(), identifier)
			if !allowed {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				helpers.RespondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
