package middlewares

import (
	"net/http"
	"time"

	"github.com/pehchan-id/pehchan/internal/metrics"
)

// WithMetrics records per-request counters and latency. The route label
// is the raw path; the routing table is a small fixed set so the label
// cardinality stays bounded.
func WithMetrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			metrics.ObserveRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}
