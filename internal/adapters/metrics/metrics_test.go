package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecocert/internal/domain"
)

func TestObserveCountsEvents(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.Observe(ctx, domain.Event{Type: domain.EventRecordSubmitted})
	m.Observe(ctx, domain.Event{Type: domain.EventRecordSubmitted})
	m.Observe(ctx, domain.Event{Type: domain.EventDisclosureResolved})
	m.Observe(ctx, domain.Event{Type: domain.EventCallbackRejected, Reason: "invalid_signatures"})
	m.Observe(ctx, domain.Event{Type: domain.EventCallbackRejected, Reason: "invalid_signatures"})
	m.Observe(ctx, domain.Event{Type: domain.EventCallbackRejected, Reason: "unknown_request"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.records))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolved))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.expired))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.callbacksRejected.WithLabelValues("invalid_signatures")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callbacksRejected.WithLabelValues("unknown_request")))
}

func TestWrapHandlerAndExposition(t *testing.T) {
	m := New()
	h := m.WrapHandler("records", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/records/9", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("records", "404")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "http_requests_total")
}
