package middlewares

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pehchan-id/pehchan/internal/cache"
	"github.com/pehchan-id/pehchan/internal/httpx/errors"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
)

// RateKeyFunc derives the limiting key for a request.
type RateKeyFunc func(r *http.Request) string

// IPRateKey keys by client address and path.
func IPRateKey(r *http.Request) string {
	return fmt.Sprintf("rate:%s:%s", r.URL.Path, clientIP(r))
}

// Limit is a fixed-window budget.
type Limit struct {
	Requests int
	Window   time.Duration
}

// WithRateLimit counts requests per key in the cache and rejects over
// budget with 429. A cache failure lets the request pass; availability
// of login beats strictness of the limiter.
func WithRateLimit(c cache.Client, limit Limit, key RateKeyFunc) Middleware {
	if key == nil {
		key = IPRateKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit.Requests <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			hits, err := c.Incr(r.Context(), key(r), limit.Window)
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable",
					logger.Component("ratelimit"),
					logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(limit.Requests) - hits
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if hits > int64(limit.Requests) {
				w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
				errors.WriteError(w, errors.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
