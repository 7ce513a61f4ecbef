// Package metrics exposes Prometheus collectors for navigation, extraction,
// retry rounds and network identity. All recording methods are safe on a nil
// *Metrics so components can run without instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"galleryscraper/pkg/logger"
)

const namespace = "galleryscraper"

// Navigation outcomes
const (
	OutcomeOK        = "ok"
	OutcomeRetry     = "retry"
	OutcomeTerminal  = "terminal"
	OutcomeExhausted = "exhausted"
)

// Extraction results
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

// Metrics holds the scraper's Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	Navigations        *prometheus.CounterVec
	NavigationDuration prometheus.Histogram
	Extractions        *prometheus.CounterVec
	Batches            prometheus.Counter
	RetryRounds        prometheus.Counter
	PendingFailures    prometheus.Gauge
	DiscoveredLinks    prometheus.Gauge
	DiscoverySteps     *prometheus.CounterVec
	ProxyHealthy       *prometheus.GaugeVec
	ProxySelections    *prometheus.CounterVec
	VPNChanges         *prometheus.CounterVec
}

// New registers every collector on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.Navigations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "navigations_total",
		Help:      "Navigation attempts by outcome (ok, retry, terminal, exhausted)",
	}, []string{"outcome"})

	m.NavigationDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "navigation_duration_seconds",
		Help:      "Time spent in a single navigation attempt",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	m.Extractions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extractions_total",
		Help:      "Item extractions by result (success, partial, failed)",
	}, []string{"result"})

	m.Batches = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Extraction batches completed",
	})

	m.RetryRounds = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_rounds_total",
		Help:      "Retry rounds executed",
	})

	m.PendingFailures = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_failures",
		Help:      "Live failure records awaiting retry or report",
	})

	m.DiscoveredLinks = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "discovered_links",
		Help:      "Distinct item links discovered in the current job",
	})

	m.DiscoverySteps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_steps_total",
		Help:      "Discovery iterations by step kind",
	}, []string{"step"})

	m.ProxyHealthy = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "proxy_healthy",
		Help:      "1 when the proxy endpoint is healthy, 0 otherwise",
	}, []string{"endpoint"})

	m.ProxySelections = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_selections_total",
		Help:      "Proxy selections by mode (healthy, degraded)",
	}, []string{"mode"})

	m.VPNChanges = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vpn_changes_total",
		Help:      "VPN change attempts by result",
	}, []string{"result"})

	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, log logger.Logger) error {
	log = logger.OrDefault(log)
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.InfoWithFields("metrics endpoint listening", map[string]interface{}{"addr": addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObserveNavigation records one navigation attempt
func (m *Metrics) ObserveNavigation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Navigations.WithLabelValues(outcome).Inc()
	m.NavigationDuration.Observe(d.Seconds())
}

// IncExtraction records one item extraction result
func (m *Metrics) IncExtraction(result string) {
	if m == nil {
		return
	}
	m.Extractions.WithLabelValues(result).Inc()
}

// IncBatch records a completed batch
func (m *Metrics) IncBatch() {
	if m == nil {
		return
	}
	m.Batches.Inc()
}

// IncRetryRound records a started retry round
func (m *Metrics) IncRetryRound() {
	if m == nil {
		return
	}
	m.RetryRounds.Inc()
}

// SetPendingFailures sets the live failure count
func (m *Metrics) SetPendingFailures(n int) {
	if m == nil {
		return
	}
	m.PendingFailures.Set(float64(n))
}

// SetDiscovered sets the discovered link count
func (m *Metrics) SetDiscovered(n int) {
	if m == nil {
		return
	}
	m.DiscoveredLinks.Set(float64(n))
}

// IncDiscoveryStep records one discovery iteration
func (m *Metrics) IncDiscoveryStep(step string) {
	if m == nil {
		return
	}
	m.DiscoverySteps.WithLabelValues(step).Inc()
}

// SetProxyHealth records the health of one endpoint
func (m *Metrics) SetProxyHealth(endpoint string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.ProxyHealthy.WithLabelValues(endpoint).Set(v)
}

// IncProxySelection records a proxy pick
func (m *Metrics) IncProxySelection(mode string) {
	if m == nil {
		return
	}
	m.ProxySelections.WithLabelValues(mode).Inc()
}

// IncVPNChange records a VPN change attempt
func (m *Metrics) IncVPNChange(result string) {
	if m == nil {
		return
	}
	m.VPNChanges.WithLabelValues(result).Inc()
}
