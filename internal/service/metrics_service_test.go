package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceBookingCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordClaim(ClaimOutcomeBooked)
	m.RecordClaim(ClaimOutcomeConflict)
	m.RecordClaim(ClaimOutcomeConflict)
	m.RecordCancellation("parent", false)
	m.RecordCancellation("parent", true)
	m.RecordNotification(NotificationBooked, nil)
	m.RecordNotification(NotificationBooked, errors.New("smtp"))
	m.ObserveSlotsExpanded(12)
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/teachers/:id/slots", "parent", http.StatusOK, 15*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.claims.WithLabelValues(ClaimOutcomeBooked)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.claims.WithLabelValues(ClaimOutcomeConflict)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cancellations.WithLabelValues("parent", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.notifications.WithLabelValues(NotificationBooked, "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestTotal.WithLabelValues(http.MethodGet, "/api/v1/teachers/:id/slots", "200", "parent")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "booking_claims_total")
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RecordClaim(ClaimOutcomeBooked)
		m.RecordCancellation("admin", false)
		m.ObserveSlotsExpanded(3)
		m.RecordNotification(NotificationCancelled, nil)
		m.RecordCacheOperation(true, time.Millisecond)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
