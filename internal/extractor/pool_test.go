package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"galleryscraper/internal/failures"
	"galleryscraper/internal/navigator"
	"galleryscraper/pkg/browser"
	"galleryscraper/pkg/browser/browsertest"
	"galleryscraper/pkg/capture"
	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/metrics"
	"galleryscraper/pkg/models"
	"galleryscraper/pkg/proxy"
)

func itemPage(id int) string {
	return fmt.Sprintf(`<html><head><title>Item %d</title></head><body>
<h1>Item %d</h1>
<dl><dt>Photographer</dt><dd>Person %d</dd></dl>
<figure><figcaption>Evening light over the harbour</figcaption></figure>
</body></html>`, id, id, id)
}

func itemURL(id int) string {
	return fmt.Sprintf("https://gallery.example/item/%d", id)
}

func makeLinks(site *browsertest.Site, n int) []models.DiscoveredLink {
	links := make([]models.DiscoveredLink, 0, n)
	for i := 1; i <= n; i++ {
		site.SetPage(itemURL(i), itemPage(i))
		links = append(links, models.DiscoveredLink{ItemID: fmt.Sprint(i), CanonicalURL: itemURL(i)})
	}
	return links
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

func newPool(opener browser.Opener, rec *sleepRecorder, opts ...Option) *Pool {
	nav := navigator.New(logger.NewNopLogger(), navigator.WithMaxAttempts(1), navigator.WithSleeper(rec.sleep))
	return New(Config{}, opener, nav, nil, logger.NewNopLogger(), append([]Option{WithSleeper(rec.sleep)}, opts...)...)
}

func TestExtractAllBatches(t *testing.T) {
	site := browsertest.NewSite()
	links := makeLinks(site, 7)
	opener := browsertest.NewOpener(site)
	rec := &sleepRecorder{}

	var progress [][2]int
	res, err := newPool(opener, rec).ExtractAll(context.Background(), links, RunOptions{
		Concurrency: 3,
		BatchDelay:  500 * time.Millisecond,
		OnProgress: func(attempted, succeeded, total int) {
			assert.Equal(t, 7, total)
			progress = append(progress, [2]int{attempted, succeeded})
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 7, res.Attempted)
	assert.Equal(t, 7, res.Succeeded)
	require.Len(t, res.Records, 7)
	assert.Equal(t, "Item 1", res.Records[0].Title)
	assert.Equal(t, "Person 1", res.Records[0].Photographer)
	assert.Equal(t, [][2]int{{3, 3}, {6, 6}, {7, 7}}, progress)

	// one delay between each pair of batches, none after the last
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, rec.delays)

	assert.Equal(t, 3, opener.OpenCount(), "sessions are reused across batches")
	assert.Equal(t, 3, opener.ClosedCount())
	for i := 1; i <= 7; i++ {
		assert.Equal(t, 1, site.Visits(itemURL(i)))
	}
}

func TestExtractAllOpensNoMoreSessionsThanLinks(t *testing.T) {
	site := browsertest.NewSite()
	links := makeLinks(site, 2)
	opener := browsertest.NewOpener(site)

	res, err := newPool(opener, &sleepRecorder{}).ExtractAll(context.Background(), links, RunOptions{Concurrency: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, opener.OpenCount())
}

func TestExtractAllEmpty(t *testing.T) {
	opener := browsertest.NewOpener(browsertest.NewSite())
	res, err := newPool(opener, &sleepRecorder{}).ExtractAll(context.Background(), nil, RunOptions{Concurrency: 5})
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Zero(t, opener.OpenCount())
}

func TestExtractAllFailuresProducePartialRecords(t *testing.T) {
	site := browsertest.NewSite()
	links := makeLinks(site, 4)
	site.Respond(itemURL(2), browsertest.Response{Status: 404})
	site.Respond(itemURL(3), browsertest.Response{Status: 500})
	table := failures.NewTable()

	res, err := newPool(browsertest.NewOpener(site), &sleepRecorder{}).ExtractAll(context.Background(), links, RunOptions{
		Concurrency: 2,
		Failures:    table,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Attempted)
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Records, 4)
	assert.Equal(t, models.ExtractionRecord{ItemID: "2", SourceURL: itemURL(2)}, res.Records[1])
	assert.True(t, res.Records[2].IsPartial())

	notFound, ok := table.Get("2")
	require.True(t, ok)
	assert.Equal(t, "HTTP 404", notFound.Reason)
	assert.Equal(t, 404, notFound.HTTPStatus)
	assert.Equal(t, 1, notFound.Attempts)

	server, ok := table.Get("3")
	require.True(t, ok)
	assert.Equal(t, "HTTP 500", server.Reason)
	assert.Equal(t, 2, table.Len())
}

func TestExtractAllRecoversPanics(t *testing.T) {
	site := browsertest.NewSite()
	links := makeLinks(site, 3)
	site.Respond(itemURL(2), browsertest.Response{Panic: "selector engine crashed"})
	table := failures.NewTable()
	opener := browsertest.NewOpener(site)

	res, err := newPool(opener, &sleepRecorder{}).ExtractAll(context.Background(), links, RunOptions{
		Concurrency: 3,
		Failures:    table,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 2, res.Succeeded)
	assert.Len(t, res.Records, 2, "uncaught failures contribute no record")

	fr, ok := table.Get("2")
	require.True(t, ok)
	assert.Equal(t, "uncaught exception: selector engine crashed", fr.Reason)
	assert.Equal(t, 3, opener.ClosedCount())
}

func TestExtractAllErrorPageIsStructural(t *testing.T) {
	site := browsertest.NewSite()
	links := makeLinks(site, 1)
	site.SetPage(itemURL(1), `<html><head><title>Page not found</title></head><body><h1>Page not found</h1></body></html>`)
	table := failures.NewTable()

	res, err := newPool(browsertest.NewOpener(site), &sleepRecorder{}).ExtractAll(context.Background(), links, RunOptions{
		Concurrency: 1,
		Failures:    table,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	require.Len(t, res.Records, 1)
	assert.True(t, res.Records[0].IsPartial())

	fr, ok := table.Get("1")
	require.True(t, ok)
	assert.Contains(t, fr.Reason, "structural")
	assert.Zero(t, fr.HTTPStatus)
}

func TestExtractAllAcceptRejects(t *testing.T) {
	site := browsertest.NewSite()
	links := makeLinks(site, 2)
	table := failures.NewTable()
	table.Record(links[0], errors.New("earlier"), 0)

	res, err := newPool(browsertest.NewOpener(site), &sleepRecorder{}).ExtractAll(context.Background(), links, RunOptions{
		Concurrency: 2,
		Round:       1,
		Failures:    table,
		Accept: func(rec *models.ExtractionRecord) error {
			if rec.ItemID == "2" {
				return failures.Structural("no meaningful content")
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Item 2", res.Records[1].Title, "rejected records keep what was extracted")

	_, ok := table.Get("1")
	assert.False(t, ok, "success resolves the earlier failure")
	fr, ok := table.Get("2")
	require.True(t, ok)
	assert.Equal(t, 1, fr.RetryRound)
	assert.Equal(t, "structural: no meaningful content", fr.Reason)
}

func TestExtractAllOpenFailureIsFatal(t *testing.T) {
	site := browsertest.NewSite()
	opener := browsertest.NewOpener(site)
	opener.OpenErr = errors.New("chrome not found")

	_, err := newPool(opener, &sleepRecorder{}).ExtractAll(context.Background(), makeLinks(site, 2), RunOptions{Concurrency: 2})
	require.Error(t, err)
	assert.ErrorContains(t, err, "cannot launch browser session")
	assert.ErrorContains(t, err, "chrome not found")
}

func TestExtractAllCancelled(t *testing.T) {
	site := browsertest.NewSite()
	links := makeLinks(site, 4)
	ctx, cancel := context.WithCancel(context.Background())
	opener := browsertest.NewOpener(site)

	res, err := newPool(opener, &sleepRecorder{}).ExtractAll(ctx, links, RunOptions{
		Concurrency: 2,
		OnBatch: func(ctx context.Context, batch int) {
			cancel()
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 2, opener.ClosedCount())
}

func TestExtractAllMergesSideChannel(t *testing.T) {
	site := browsertest.NewSite()
	links := makeLinks(site, 1)
	cache, err := capture.NewCache(`/api/items/`, `/api/items/(\d+)`, logger.NewNopLogger())
	require.NoError(t, err)
	cache.Put("1", &capture.SideChannel{
		ID:           "1",
		Photographer: "Captured Person",
		Copyright:    "Captured Agency",
	})

	res, err := newPool(browsertest.NewOpener(site), &sleepRecorder{}, WithSideChannels(cache)).
		ExtractAll(context.Background(), links, RunOptions{Concurrency: 1})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Person 1", res.Records[0].Photographer, "page fields win")
	assert.Equal(t, "Captured Agency", res.Records[0].Copyright)
}

func TestExtractAllRotatesUnhealthyProxy(t *testing.T) {
	site := browsertest.NewSite()
	links := makeLinks(site, 4)
	site.Respond(itemURL(1), browsertest.Response{Status: 429})

	endpoints := []proxy.Endpoint{
		{Host: "10.0.0.1", Port: 8080, Protocol: "http"},
		{Host: "10.0.0.2", Port: 8080, Protocol: "http"},
		{Host: "10.0.0.3", Port: 8080, Protocol: "http"},
	}
	proxies := proxy.NewManager(endpoints, logger.NewNopLogger(), proxy.WithMaxFailures(1))
	opener := browsertest.NewOpener(site)

	_, err := newPool(opener, &sleepRecorder{}, WithProxies(proxies)).ExtractAll(context.Background(), links, RunOptions{
		Concurrency: 2,
	})
	require.NoError(t, err)

	h, ok := proxies.Health(endpoints[0].Key())
	require.True(t, ok)
	assert.False(t, h.IsHealthy)

	profiles := opener.Profiles()
	require.Len(t, profiles, 3)
	for _, p := range profiles {
		require.NotNil(t, p.Proxy)
	}
	sessions := opener.Sessions()
	assert.Equal(t, endpoints[2].Settings(), sessions[2].Profile.Proxy)
	assert.True(t, sessions[0].Closed())
	assert.Equal(t, 3, opener.ClosedCount())
}

func TestExtractAllMetrics(t *testing.T) {
	site := browsertest.NewSite()
	links := makeLinks(site, 3)
	site.Respond(itemURL(3), browsertest.Response{Status: 404})
	mx := metrics.New()

	_, err := newPool(browsertest.NewOpener(site), &sleepRecorder{}, WithMetrics(mx)).ExtractAll(context.Background(), links, RunOptions{
		Concurrency: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(mx.Extractions.WithLabelValues(metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mx.Extractions.WithLabelValues(metrics.ResultPartial)))
	assert.Equal(t, 2.0, testutil.ToFloat64(mx.Batches))
}
