// Package metrics registers the broker's Prometheus instruments and
// exposes the /metrics handler plus an HTTP middleware that feeds the
// request metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	loginsTotal       *prometheus.CounterVec
	refreshesTotal    *prometheus.CounterVec
	stepUpTotal       *prometheus.CounterVec
	providerReqsTotal *prometheus.CounterVec
)

// Handler registers the instruments on reg (default registry when nil)
// and returns the /metrics handler.
func Handler(reg *prometheus.Registry) http.Handler {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	gatherer := prometheus.DefaultGatherer
	if reg != nil {
		registerer = reg
		gatherer = reg
	}

	once.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Requests served, by method, route and status.",
		}, []string{"method", "route", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})

		loginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by flow and result.",
		}, []string{"flow", "result"})

		refreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refreshes_total",
			Help: "Session refresh attempts by result.",
		}, []string{"result"})

		stepUpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_stepup_verifications_total",
			Help: "Step-up verifications by result.",
		}, []string{"result"})

		providerReqsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Upstream provider calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"})

		registerer.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			loginsTotal,
			refreshesTotal,
			stepUpTotal,
			providerReqsTotal,
		)
	})

	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest feeds the HTTP instruments. Route must come from a
// fixed routing table so the label cardinality stays bounded.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// CountLogin records a login attempt. Flow is "password", "sso",
// "code" or "passkey"; result is "success" or "failure".
func CountLogin(flow, result string) {
	if loginsTotal != nil {
		loginsTotal.WithLabelValues(flow, result).Inc()
	}
}

// CountRefresh records a session refresh outcome.
func CountRefresh(result string) {
	if refreshesTotal != nil {
		refreshesTotal.WithLabelValues(result).Inc()
	}
}

// CountStepUp records a step-up verification outcome.
func CountStepUp(result string) {
	if stepUpTotal != nil {
		stepUpTotal.WithLabelValues(result).Inc()
	}
}

// CountProviderRequest records an upstream call outcome.
func CountProviderRequest(endpoint, outcome string) {
	if providerReqsTotal != nil {
		providerReqsTotal.WithLabelValues(endpoint, outcome).Inc()
	}
}
