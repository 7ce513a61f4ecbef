package navigator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"galleryscraper/pkg/browser"
	"galleryscraper/pkg/browser/browsertest"
	errs "galleryscraper/pkg/errors"
	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/metrics"
)

const itemURL = "https://gallery.example/item/7"

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newSession(t *testing.T, site *browsertest.Site) browser.Session {
	t.Helper()
	s, err := browsertest.NewOpener(site).Open(context.Background(), browser.Profile{})
	require.NoError(t, err)
	return s
}

func newNavigator(rec *sleepRecorder, opts ...Option) *Navigator {
	return New(logger.NewNopLogger(), append([]Option{WithSleeper(rec.sleep)}, opts...)...)
}

func TestNavigateSuccess(t *testing.T) {
	site := browsertest.NewSite()
	rec := &sleepRecorder{}

	meta, err := newNavigator(rec).Navigate(context.Background(), newSession(t, site), itemURL)
	require.NoError(t, err)
	assert.Equal(t, 200, meta.Status)
	assert.Equal(t, 1, site.Visits(itemURL))
	assert.Empty(t, rec.delays)
}

func TestNavigateServerErrorBackoffIncreases(t *testing.T) {
	site := browsertest.NewSite()
	site.Respond(itemURL, browsertest.Response{Status: 500}, browsertest.Response{Status: 503}, browsertest.Response{Status: 502})
	rec := &sleepRecorder{}

	meta, err := newNavigator(rec).Navigate(context.Background(), newSession(t, site), itemURL)
	require.Error(t, err)
	assert.Equal(t, 502, meta.Status)
	assert.Equal(t, 3, site.Visits(itemURL))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)

	assert.True(t, Exhausted(err))
	assert.Equal(t, 502, errs.StatusOf(err))
	assert.Equal(t, errs.ErrorTypeServerError, errs.TypeOf(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestNavigateRateLimitBackoff(t *testing.T) {
	site := browsertest.NewSite()
	site.Respond(itemURL,
		browsertest.Response{Status: 429},
		browsertest.Response{Status: 429},
		browsertest.Response{Status: 429},
		browsertest.Response{Status: 200},
	)
	rec := &sleepRecorder{}

	meta, err := newNavigator(rec, WithMaxAttempts(4)).Navigate(context.Background(), newSession(t, site), itemURL)
	require.NoError(t, err)
	assert.Equal(t, 200, meta.Status)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, rec.delays)
}

func TestNavigateTerminalStatusNeverRetries(t *testing.T) {
	for _, status := range []int{401, 403, 404} {
		site := browsertest.NewSite()
		site.Respond(itemURL, browsertest.Response{Status: status})
		rec := &sleepRecorder{}

		_, err := newNavigator(rec).Navigate(context.Background(), newSession(t, site), itemURL)
		require.Error(t, err)
		assert.True(t, errs.IsTerminal(err), "status %d", status)
		assert.False(t, Exhausted(err))
		assert.Equal(t, status, errs.StatusOf(err))
		assert.Equal(t, 1, site.Visits(itemURL), "status %d", status)
		assert.Empty(t, rec.delays)
	}
}

func TestNavigateTransportErrorUsesServerSchedule(t *testing.T) {
	site := browsertest.NewSite()
	site.Respond(itemURL,
		browsertest.Response{Err: errors.New("net::ERR_CONNECTION_RESET")},
		browsertest.Response{Err: context.DeadlineExceeded},
		browsertest.Response{Status: 200},
	)
	rec := &sleepRecorder{}

	_, err := newNavigator(rec).Navigate(context.Background(), newSession(t, site), itemURL)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)
}

func TestNavigateAttemptsOverride(t *testing.T) {
	site := browsertest.NewSite()
	site.Respond(itemURL, browsertest.Response{Status: 500})
	rec := &sleepRecorder{}

	_, err := newNavigator(rec).NavigateAttempts(context.Background(), newSession(t, site), itemURL, 1)
	require.Error(t, err)
	assert.True(t, Exhausted(err))
	assert.Equal(t, 1, site.Visits(itemURL))
	assert.Empty(t, rec.delays)
}

func TestNavigateCancelledContext(t *testing.T) {
	site := browsertest.NewSite()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newNavigator(&sleepRecorder{}).Navigate(ctx, newSession(t, site), itemURL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, site.Visits(itemURL))
}

func TestNavigateRecordsMetrics(t *testing.T) {
	site := browsertest.NewSite()
	site.Respond(itemURL, browsertest.Response{Status: 500}, browsertest.Response{Status: 200})
	mx := metrics.New()

	_, err := newNavigator(&sleepRecorder{}, WithMetrics(mx)).Navigate(context.Background(), newSession(t, site), itemURL)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(mx.Navigations.WithLabelValues(metrics.OutcomeRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mx.Navigations.WithLabelValues(metrics.OutcomeOK)))
}

func TestNavigateLogsAttempts(t *testing.T) {
	site := browsertest.NewSite()
	site.Respond(itemURL, browsertest.Response{Status: 404})
	log := logger.NewTestLogger()

	_, err := New(log).Navigate(context.Background(), newSession(t, site), itemURL)
	require.Error(t, err)
	assert.True(t, log.HasMessage("navigation returned error status"))
}
