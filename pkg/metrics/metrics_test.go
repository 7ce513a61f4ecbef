package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.ObserveNavigation(OutcomeOK, 120*time.Millisecond)
	m.ObserveNavigation(OutcomeRetry, time.Second)
	m.ObserveNavigation(OutcomeOK, 80*time.Millisecond)
	m.IncExtraction(ResultPartial)
	m.SetPendingFailures(2)
	m.SetProxyHealth("http://a:1", false)
	m.IncProxySelection("degraded")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Navigations.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Navigations.WithLabelValues(OutcomeRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Extractions.WithLabelValues(ResultPartial)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PendingFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ProxyHealthy.WithLabelValues("http://a:1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProxySelections.WithLabelValues("degraded")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveNavigation(OutcomeOK, time.Second)
		m.IncExtraction(ResultSuccess)
		m.IncBatch()
		m.IncRetryRound()
		m.SetPendingFailures(1)
		m.SetDiscovered(1)
		m.IncDiscoveryStep("scroll")
		m.SetProxyHealth("x", true)
		m.IncProxySelection("healthy")
		m.IncVPNChange("ok")
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.IncRetryRound()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "galleryscraper_retry_rounds_total 1"))
}
