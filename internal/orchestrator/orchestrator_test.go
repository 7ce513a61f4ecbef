package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"galleryscraper/internal/discovery"
	"galleryscraper/internal/scheduler"
	"galleryscraper/pkg/browser"
	"galleryscraper/pkg/browser/browsertest"
	errs "galleryscraper/pkg/errors"
	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/models"
	"galleryscraper/pkg/proxy"
	"galleryscraper/pkg/storage"
)

const entryURL = "https://gallery.example/collection"

func itemURL(id int) string {
	return fmt.Sprintf("https://gallery.example/item/%d", id)
}

// newGallery serves a collection page linking n item pages. The page never
// grows, so discovery ends after the initial collect.
func newGallery(n int) *browsertest.Site {
	pages := make(map[string]string, n+1)
	var b strings.Builder
	b.WriteString("<html><body><h1>Collection</h1>")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<a href="/item/%d">Item %d</a>`, i, i)
		pages[itemURL(i)] = fmt.Sprintf(`<html><body><h1>Item %d</h1>
<dl><dt>Photographer</dt><dd>Person %d</dd></dl></body></html>`, i, i)
	}
	b.WriteString("</body></html>")
	pages[entryURL] = b.String()

	site := browsertest.NewSite()
	site.SetEvaluator(func(url, script string) (any, error) {
		switch {
		case script == browser.OuterHTMLScript:
			return pages[url], nil
		case script == browser.CurrentURLScript:
			return url, nil
		case strings.Contains(script, "data-gs-control"):
			return nil, nil
		case strings.Contains(script, "scrollTo"):
			return true, nil
		case strings.Contains(script, "querySelectorAll"):
			return map[string]any{"url": url, "count": n, "height": 1000}, nil
		default:
			return 1000, nil
		}
	})
	return site
}

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

type recordingSink struct {
	mu        sync.Mutex
	phases    []models.JobPhase
	progress  [][3]int
	completed []models.ExtractionRecord
	done      bool
	err       error
}

func (s *recordingSink) OnPhase(p models.JobPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, p)
}

func (s *recordingSink) OnProgress(attempted, succeeded, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, [3]int{attempted, succeeded, total})
}

func (s *recordingSink) OnComplete(records []models.ExtractionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.completed = records
}

func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type mockRotator struct {
	mock.Mock
}

func (m *mockRotator) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *mockRotator) Rotate(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func testSettings() Settings {
	return Settings{
		ItemSelector:       "a[href]",
		LinkPattern:        `/item/(?P<id>\d+)`,
		Discovery:          discovery.Config{MaxSteps: 20, PatienceRounds: 1},
		Retry:              scheduler.DefaultConfig(),
		Concurrency:        5,
		BatchDelay:         500 * time.Millisecond,
		NavigationAttempts: 1,
	}
}

func newStore(t *testing.T) *storage.Manager {
	t.Helper()
	store, err := storage.NewManager(t.TempDir(), logger.NewNopLogger())
	require.NoError(t, err)
	return store
}

func newOrchestrator(settings Settings, opener browser.Opener, store *storage.Manager, opts ...Option) *Orchestrator {
	rec := &sleepRecorder{}
	base := []Option{WithSleeper(rec.sleep), WithIDGenerator(func() string { return "job-1" })}
	return New(settings, opener, store, logger.NewNopLogger(), append(base, opts...)...)
}

func TestRunRecoversTransientFailuresInOneRound(t *testing.T) {
	site := newGallery(10)
	site.Respond(itemURL(3), browsertest.Response{Status: 500}, browsertest.Response{Status: 200})
	site.Respond(itemURL(7), browsertest.Response{Status: 500}, browsertest.Response{Status: 200})
	store := newStore(t)
	sink := &recordingSink{}

	report, err := newOrchestrator(testSettings(), browsertest.NewOpener(site), store, WithSink(sink)).
		Run(context.Background(), entryURL, false)
	require.NoError(t, err)

	assert.Equal(t, "job-1", report.JobID)
	require.Len(t, report.Records, 10)
	for i, rec := range report.Records {
		assert.Equal(t, fmt.Sprint(i+1), rec.ItemID)
		assert.Equal(t, fmt.Sprintf("Person %d", i+1), rec.Photographer)
	}
	assert.Empty(t, report.Failures)
	assert.Empty(t, report.FailureLogPath)
	assert.Equal(t, 1, report.RetryRounds)

	assert.Equal(t, models.PhaseCompleted, report.State.Phase)
	assert.Equal(t, 10, report.State.Discovered)
	assert.Equal(t, 10, report.State.Succeeded)
	assert.Equal(t, 0, report.State.Failed)
	assert.Equal(t, 1, report.State.RetryRound)

	assert.True(t, sink.done)
	assert.NoError(t, sink.err)
	assert.Len(t, sink.completed, 10)
	assert.Equal(t, [][3]int{{5, 4, 10}, {10, 8, 10}}, sink.progress)
	assert.Equal(t, []models.JobPhase{
		models.PhaseInitializing,
		models.PhaseDiscovering,
		models.PhaseExtracting,
		models.PhaseRetrying,
		models.PhaseFinalizing,
		models.PhaseCompleted,
	}, sink.phases)

	saved, err := store.LoadRecords("records.json")
	require.NoError(t, err)
	assert.Len(t, saved, 10)
	_, err = os.Stat(store.Path("failures.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunNotFoundIsPartialAndNeverRetried(t *testing.T) {
	site := newGallery(4)
	site.Respond(itemURL(2), browsertest.Response{Status: 404})
	site.Respond(itemURL(4), browsertest.Response{Status: 500}, browsertest.Response{Status: 200})
	store := newStore(t)

	report, err := newOrchestrator(testSettings(), browsertest.NewOpener(site), store).
		Run(context.Background(), entryURL, false)
	require.NoError(t, err)

	require.Len(t, report.Records, 4)
	assert.Equal(t, models.ExtractionRecord{ItemID: "2", SourceURL: itemURL(2)}, report.Records[1])
	assert.Equal(t, 1, site.Visits(itemURL(2)))
	assert.Equal(t, 2, site.Visits(itemURL(4)))

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "HTTP 404", report.Failures[0].Reason)
	assert.Equal(t, 1, report.State.Failed)
	assert.Equal(t, 3, report.State.Succeeded)

	require.NotEmpty(t, report.FailureLogPath)
	data, err := os.ReadFile(report.FailureLogPath)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "=== job job-1 ===")
	assert.Contains(t, body, "id: 2")
	assert.Contains(t, body, "  reason: HTTP 404")
	assert.Contains(t, body, "  httpStatus: 404")
	assert.NotContains(t, body, "id: 4")
}

func TestRunEntryFailureIsFatal(t *testing.T) {
	site := newGallery(3)
	site.Respond(entryURL, browsertest.Response{Status: 503})
	settings := testSettings()
	settings.NavigationAttempts = 2
	sink := &recordingSink{}
	opener := browsertest.NewOpener(site)

	report, err := newOrchestrator(settings, opener, newStore(t), WithSink(sink)).
		Run(context.Background(), entryURL, false)
	require.Error(t, err)

	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, 503, errs.StatusOf(err))
	assert.Equal(t, 2, site.Visits(entryURL))
	assert.Zero(t, site.Visits(itemURL(1)))
	assert.Equal(t, models.PhaseFailed, report.State.Phase)
	assert.Contains(t, report.State.Error, "unreachable")
	assert.Equal(t, err, sink.err)
	assert.False(t, sink.done)
	assert.Equal(t, opener.OpenCount(), opener.ClosedCount())
}

func TestRunSessionLaunchFailureIsFatal(t *testing.T) {
	opener := browsertest.NewOpener(newGallery(3))
	opener.OpenErr = errors.New("browser binary missing")
	sink := &recordingSink{}

	report, err := newOrchestrator(testSettings(), opener, newStore(t), WithSink(sink)).Run(context.Background(), entryURL, false)
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.ErrorContains(t, err, "cannot launch discovery session")
	assert.ErrorContains(t, err, "browser binary missing")
	assert.Contains(t, report.State.Error, "cannot launch discovery session: browser binary missing")
	require.Error(t, sink.err)
	assert.Contains(t, sink.err.Error(), "browser binary missing")
}

func TestRunInvalidLinkPatternIsFatal(t *testing.T) {
	settings := testSettings()
	settings.LinkPattern = "(["

	_, err := newOrchestrator(settings, browsertest.NewOpener(newGallery(1)), newStore(t)).
		Run(context.Background(), entryURL, false)
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	site := newGallery(3)
	store := newStore(t)
	require.NoError(t, store.SaveCheckpoint(&storage.Checkpoint{
		JobID:    "job-0",
		EntryURL: entryURL,
		Complete: true,
		Links: []models.DiscoveredLink{
			{ItemID: "1", CanonicalURL: itemURL(1)},
			{ItemID: "2", CanonicalURL: itemURL(2)},
		},
	}))

	report, err := newOrchestrator(testSettings(), browsertest.NewOpener(site), store).
		Run(context.Background(), entryURL, true)
	require.NoError(t, err)

	assert.True(t, report.Resumed)
	assert.Zero(t, site.Visits(entryURL))
	assert.Len(t, report.Records, 2)
	assert.Zero(t, site.Visits(itemURL(3)))

	cp, err := store.LoadCheckpoint(entryURL)
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint is removed once the job completes")
}

func TestRunIgnoresCheckpointWithoutResume(t *testing.T) {
	site := newGallery(3)
	store := newStore(t)
	require.NoError(t, store.SaveCheckpoint(&storage.Checkpoint{
		EntryURL: entryURL,
		Complete: true,
		Links:    []models.DiscoveredLink{{ItemID: "1", CanonicalURL: itemURL(1)}},
	}))

	report, err := newOrchestrator(testSettings(), browsertest.NewOpener(site), store).
		Run(context.Background(), entryURL, false)
	require.NoError(t, err)
	assert.False(t, report.Resumed)
	assert.Equal(t, 1, site.Visits(entryURL))
	assert.Len(t, report.Records, 3)
}

func TestRunBudgetExceededKeepsResults(t *testing.T) {
	site := newGallery(4)
	store := newStore(t)
	settings := testSettings()
	settings.Concurrency = 2
	settings.BatchDelay = time.Hour
	settings.MaxDuration = 200 * time.Millisecond

	o := New(settings, browsertest.NewOpener(site), store, logger.NewNopLogger())
	report, err := o.Run(context.Background(), entryURL, false)
	require.Error(t, err)

	assert.True(t, errs.IsFatal(err))
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, report.State.Error, "job stopped after 200ms: job exceeded its maximum duration")
	assert.Equal(t, models.PhaseFailed, report.State.Phase)

	saved, err := store.LoadRecords("records.json")
	require.NoError(t, err)
	require.Len(t, saved, 4)
	assert.Equal(t, "Person 1", saved[0].Photographer)
	assert.Equal(t, models.ExtractionRecord{ItemID: "3", SourceURL: itemURL(3)}, saved[2])
}

func TestRunRotatesEveryNBatches(t *testing.T) {
	site := newGallery(10)
	settings := testSettings()
	settings.RotateEveryBatches = 1

	rot := &mockRotator{}
	rot.On("Enabled").Return(true)
	rot.On("Rotate", mock.Anything).Return(true)

	_, err := newOrchestrator(settings, browsertest.NewOpener(site), newStore(t), WithRotator(rot)).
		Run(context.Background(), entryURL, false)
	require.NoError(t, err)
	rot.AssertNumberOfCalls(t, "Rotate", 2)
}

func TestRunRoutesSessionsThroughProxies(t *testing.T) {
	site := newGallery(4)
	opener := browsertest.NewOpener(site)
	proxies := proxy.NewManager([]proxy.Endpoint{
		{Host: "10.0.0.1", Port: 3128, Protocol: "http"},
		{Host: "10.0.0.2", Port: 3128, Protocol: "http"},
	}, logger.NewNopLogger())
	settings := testSettings()
	settings.Concurrency = 2

	_, err := newOrchestrator(settings, opener, newStore(t), WithProxies(proxies, nil)).
		Run(context.Background(), entryURL, false)
	require.NoError(t, err)

	profiles := opener.Profiles()
	require.Len(t, profiles, 3)
	for _, p := range profiles {
		assert.NotNil(t, p.Proxy)
	}
	for _, h := range proxies.Snapshot() {
		assert.True(t, h.IsHealthy)
		assert.Positive(t, h.TotalUses)
	}
}

func TestRunEntryFailureCountsAgainstDiscoveryProxy(t *testing.T) {
	site := newGallery(2)
	site.Respond(entryURL, browsertest.Response{Err: errors.New("net::ERR_PROXY_CONNECTION_FAILED")})
	proxies := proxy.NewManager([]proxy.Endpoint{
		{Host: "10.0.0.1", Port: 3128, Protocol: "http"},
		{Host: "10.0.0.2", Port: 3128, Protocol: "http"},
	}, logger.NewNopLogger())

	_, err := newOrchestrator(testSettings(), browsertest.NewOpener(site), newStore(t), WithProxies(proxies, nil)).
		Run(context.Background(), entryURL, false)
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))

	used, ok := proxies.Health("http://10.0.0.1:3128")
	require.True(t, ok)
	assert.Equal(t, 1, used.ConsecutiveFailures)
	assert.Zero(t, used.Successes)

	idle, ok := proxies.Health("http://10.0.0.2:3128")
	require.True(t, ok)
	assert.Zero(t, idle.ConsecutiveFailures)
}

func TestRunEntrySuccessCreditsDiscoveryProxy(t *testing.T) {
	site := newGallery(1)
	proxies := proxy.NewManager([]proxy.Endpoint{
		{Host: "10.0.0.1", Port: 3128, Protocol: "http"},
		{Host: "10.0.0.2", Port: 3128, Protocol: "http"},
	}, logger.NewNopLogger())
	settings := testSettings()
	settings.Concurrency = 1

	_, err := newOrchestrator(settings, browsertest.NewOpener(site), newStore(t), WithProxies(proxies, nil)).
		Run(context.Background(), entryURL, false)
	require.NoError(t, err)

	discovery, ok := proxies.Health("http://10.0.0.1:3128")
	require.True(t, ok)
	assert.Equal(t, 1, discovery.Successes)
}

func TestStateIsObservable(t *testing.T) {
	site := newGallery(2)
	o := newOrchestrator(testSettings(), browsertest.NewOpener(site), newStore(t))
	assert.Equal(t, models.JobPhase(""), o.State().Phase)

	_, err := o.Run(context.Background(), entryURL, false)
	require.NoError(t, err)
	state := o.State()
	assert.Equal(t, models.PhaseCompleted, state.Phase)
	assert.Equal(t, "job-1", state.JobID)
}
