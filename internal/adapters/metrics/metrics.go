// Package metrics exposes protocol counters and HTTP request metrics on a
// dedicated Prometheus registry.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ecocert/internal/domain"
)

type Metrics struct {
	registry *prometheus.Registry

	records           prometheus.Counter
	verified          prometheus.Counter
	requested         prometheus.Counter
	resolved          prometheus.Counter
	expired           prometheus.Counter
	callbacksRejected *prometheus.CounterVec
	authorityRotated  prometheus.Counter

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecocert_records_submitted_total",
			Help: "Records accepted by the store.",
		}),
		verified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecocert_records_verified_total",
			Help: "Records attested by the authority.",
		}),
		requested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecocert_disclosures_requested_total",
			Help: "Disclosure requests issued to the oracle.",
		}),
		resolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecocert_disclosures_resolved_total",
			Help: "Disclosure callbacks accepted and committed.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecocert_disclosures_expired_total",
			Help: "Disclosure requests rejected after their deadline.",
		}),
		callbacksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecocert_callbacks_rejected_total",
			Help: "Oracle callbacks refused, by reason.",
		}, []string{"reason"}),
		authorityRotated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecocert_authority_rotations_total",
			Help: "Authority role reassignments.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		m.records,
		m.verified,
		m.requested,
		m.resolved,
		m.expired,
		m.callbacksRejected,
		m.authorityRotated,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Registry is exposed for tests and for registering process collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe counts a domain event. It has the events.Handler signature so it
// can subscribe to the bus directly.
func (m *Metrics) Observe(_ context.Context, e domain.Event) {
	switch e.Type {
	case domain.EventRecordSubmitted:
		m.records.Inc()
	case domain.EventRecordVerified:
		m.verified.Inc()
	case domain.EventDisclosureRequested:
		m.requested.Inc()
	case domain.EventDisclosureResolved:
		m.resolved.Inc()
	case domain.EventDisclosureExpired:
		m.expired.Inc()
	case domain.EventCallbackRejected:
		m.callbacksRejected.WithLabelValues(e.Reason).Inc()
	case domain.EventAuthorityRotated:
		m.authorityRotated.Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
	})
}
