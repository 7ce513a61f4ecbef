// Package extractor runs item extraction across a fixed set of long-lived
// browser sessions, one batch of links at a time.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"galleryscraper/internal/failures"
	"galleryscraper/pkg/browser"
	"galleryscraper/pkg/capture"
	errs "galleryscraper/pkg/errors"
	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/metrics"
	"galleryscraper/pkg/models"
	"galleryscraper/pkg/normalize"
	"galleryscraper/pkg/pagequery"
	"galleryscraper/pkg/proxy"
	"galleryscraper/pkg/retry"
)

const (
	DefaultBatchDelay  = 500 * time.Millisecond
	DefaultWaitTimeout = 15 * time.Second
)

// Navigator opens an item page with retry
type Navigator interface {
	Navigate(ctx context.Context, s browser.Session, url string) (browser.ResponseMeta, error)
}

// SideChannels serves metadata captured from in-flight responses
type SideChannels interface {
	Get(itemID string) (*capture.SideChannel, bool)
}

// ProxyPool hands out egress endpoints and collects their health
type ProxyPool interface {
	Next() (proxy.Endpoint, bool)
	RecordSuccess(e proxy.Endpoint)
	RecordFailure(e proxy.Endpoint)
	Health(key string) (proxy.Health, bool)
}

// Progress is called after every batch
type Progress func(attempted, succeeded, total int)

// Acceptor decides whether an extracted record counts as a success
type Acceptor func(rec *models.ExtractionRecord) error

// Outcome is the result of one task. Record is nil only for uncaught
// failures; Err is nil on success.
type Outcome struct {
	Link   models.DiscoveredLink
	Record *models.ExtractionRecord
	Err    error
}

// RunOptions controls one ExtractAll call
type RunOptions struct {
	// Concurrency is both the number of sessions and the batch size
	Concurrency int
	// BatchDelay separates consecutive batches
	BatchDelay time.Duration
	// Round is stamped on recorded failures; 0 is the initial pass
	Round int
	// Failures, when set, receives failures and resolves successes
	Failures   *failures.Table
	Accept     Acceptor
	OnProgress Progress
	// OnBatch runs after each batch settles, before the inter-batch delay
	OnBatch func(ctx context.Context, batch int)
}

// Result holds the outcome of ExtractAll
type Result struct {
	// Records has one record per link that did not fail uncaught: full
	// records for successes, identifiers only for failures
	Records   []models.ExtractionRecord
	Outcomes  []Outcome
	Attempted int
	Succeeded int
	Batches   int
}

// Config holds the settings shared by every run
type Config struct {
	Profile       browser.Profile
	ReadySelector string
	WaitTimeout   time.Duration
}

// Pool runs extraction tasks on browser sessions
type Pool struct {
	cfg     Config
	opener  browser.Opener
	nav     Navigator
	query   pagequery.Query
	side    SideChannels
	proxies ProxyPool
	sleep   retry.Sleeper
	metrics *metrics.Metrics
	log     logger.Logger
}

// Option configures a Pool
type Option func(*Pool)

// WithSideChannels merges captured network metadata into records
func WithSideChannels(sc SideChannels) Option {
	return func(p *Pool) { p.side = sc }
}

// WithProxies routes each session through the pool's next endpoint
func WithProxies(pp ProxyPool) Option {
	return func(p *Pool) { p.proxies = pp }
}

// WithSleeper replaces the inter-batch wait
func WithSleeper(s retry.Sleeper) Option {
	return func(p *Pool) {
		if s != nil {
			p.sleep = s
		}
	}
}

// WithMetrics records extraction results
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New creates a Pool
func New(cfg Config, opener browser.Opener, nav Navigator, query pagequery.Query, log logger.Logger, opts ...Option) *Pool {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if query == nil {
		query = pagequery.DefaultChain()
	}
	p := &Pool{
		cfg:    cfg,
		opener: opener,
		nav:    nav,
		query:  query,
		sleep:  retry.Wait,
		log:    logger.OrDefault(log),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type worker struct {
	id       int
	session  browser.Session
	endpoint *proxy.Endpoint
}

// ExtractAll processes links in batches of opts.Concurrency. It returns an
// error only when sessions cannot be opened or ctx ends.
func (p *Pool) ExtractAll(ctx context.Context, links []models.DiscoveredLink, opts RunOptions) (*Result, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	res := &Result{}
	if len(links) == 0 {
		return res, nil
	}

	size := opts.Concurrency
	if size > len(links) {
		size = len(links)
	}
	workers, err := p.openWorkers(ctx, size)
	defer p.closeWorkers(workers)
	if err != nil {
		return res, err
	}

	logger.LogComponentStart(p.log, "extractor", map[string]interface{}{
		"links":       len(links),
		"concurrency": size,
		"round":       opts.Round,
	})

	total := len(links)
	for start := 0; start < total; start += size {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + size
		if end > total {
			end = total
		}
		batch := links[start:end]
		res.Batches++

		outcomes := p.runBatch(ctx, workers, batch)
		for _, out := range outcomes {
			p.settle(res, out, opts)
		}

		logger.LogBatchProgress(p.log, res.Batches, res.Attempted, res.Succeeded, total)
		p.metrics.IncBatch()
		if opts.OnProgress != nil {
			opts.OnProgress(res.Attempted, res.Succeeded, total)
		}
		if opts.OnBatch != nil {
			opts.OnBatch(ctx, res.Batches)
		}

		if end < total {
			p.recycleUnhealthy(ctx, workers)
			if err := p.sleep(ctx, opts.BatchDelay); err != nil {
				return res, err
			}
		}
	}

	logger.LogComponentStop(p.log, "extractor", "completed")
	return res, nil
}

// runBatch fans one link out to each worker and waits for all of them
func (p *Pool) runBatch(ctx context.Context, workers []*worker, batch []models.DiscoveredLink) []Outcome {
	outcomes := make([]Outcome, len(batch))
	var g errgroup.Group
	for i, link := range batch {
		i, link, w := i, link, workers[i]
		g.Go(func() error {
			outcomes[i] = p.runTask(ctx, w, link)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// settle applies acceptance, failure bookkeeping and counters for one outcome
func (p *Pool) settle(res *Result, out Outcome, opts RunOptions) {
	res.Attempted++

	if out.Err == nil && opts.Accept != nil {
		if err := opts.Accept(out.Record); err != nil {
			out.Err = err
		}
	}

	switch {
	case out.Err == nil:
		res.Succeeded++
		p.metrics.IncExtraction(metrics.ResultSuccess)
		if opts.Failures != nil {
			opts.Failures.Resolve(out.Link.ItemID)
		}
	case out.Record != nil:
		p.metrics.IncExtraction(metrics.ResultPartial)
		p.record(opts, out)
	default:
		p.metrics.IncExtraction(metrics.ResultFailed)
		p.record(opts, out)
	}

	if out.Record != nil {
		res.Records = append(res.Records, *out.Record)
	}
	res.Outcomes = append(res.Outcomes, out)
}

func (p *Pool) record(opts RunOptions, out Outcome) {
	if opts.Failures == nil {
		return
	}
	rec := opts.Failures.Record(out.Link, out.Err, opts.Round)
	p.log.WarnWithFields("item extraction failed", map[string]interface{}{
		"item_id":  rec.ItemID,
		"reason":   rec.Reason,
		"attempts": rec.Attempts,
		"round":    opts.Round,
	})
}

// runTask extracts one item. Panics become uncaught failures with no record.
func (p *Pool) runTask(ctx context.Context, w *worker, link models.DiscoveredLink) (out Outcome) {
	out.Link = link
	defer func() {
		if r := recover(); r != nil {
			p.log.ErrorWithFields("extraction task panicked", map[string]interface{}{
				"item_id":   link.ItemID,
				"worker_id": w.id,
				"panic":     fmt.Sprint(r),
			})
			out = Outcome{Link: link, Err: failures.Uncaught(r)}
		}
	}()

	_, err := p.nav.Navigate(ctx, w.session, link.CanonicalURL)
	p.proxyFeedback(w, err)
	if err != nil {
		return Outcome{Link: link, Record: models.PartialRecord(link), Err: err}
	}

	if p.cfg.ReadySelector != "" {
		if err := w.session.WaitFor(ctx, p.cfg.ReadySelector, p.cfg.WaitTimeout); err != nil {
			p.log.DebugWithFields("content readiness wait failed", map[string]interface{}{
				"item_id": link.ItemID,
				"error":   err.Error(),
			})
		}
	}

	raw, err := p.query.Extract(ctx, w.session, link)
	if err != nil {
		if errors.Is(err, pagequery.ErrErrorPage) {
			err = failures.Structural(err.Error())
		}
		return Outcome{Link: link, Record: models.PartialRecord(link), Err: err}
	}
	p.mergeSideChannel(&raw)

	if raw.Empty() {
		return Outcome{Link: link, Record: models.PartialRecord(link), Err: failures.Structural("no metadata found")}
	}
	rec := normalize.Normalize(raw)
	if rec.IsPartial() {
		return Outcome{Link: link, Record: &rec, Err: failures.Structural("no metadata fields survived normalization")}
	}
	return Outcome{Link: link, Record: &rec}
}

// mergeSideChannel fills captured metadata under the page's own fields
func (p *Pool) mergeSideChannel(raw *normalize.Raw) {
	if p.side == nil {
		return
	}
	captured, ok := p.side.Get(raw.ItemID)
	if !ok || captured.Empty() {
		return
	}
	if raw.SideChannel == nil {
		raw.SideChannel = captured
		return
	}
	raw.SideChannel.Merge(captured)
}

// proxyFeedback reports the navigation result against the worker's proxy
func (p *Pool) proxyFeedback(w *worker, err error) {
	if p.proxies == nil || w.endpoint == nil {
		return
	}
	proxy.Report(p.proxies, *w.endpoint, err)
}

func (p *Pool) profileFor(endpoint *proxy.Endpoint) browser.Profile {
	profile := p.cfg.Profile
	if endpoint != nil {
		profile.Proxy = endpoint.Settings()
	}
	return profile
}

func (p *Pool) nextEndpoint() *proxy.Endpoint {
	if p.proxies == nil {
		return nil
	}
	e, ok := p.proxies.Next()
	if !ok {
		return nil
	}
	return &e
}

func (p *Pool) openWorkers(ctx context.Context, n int) ([]*worker, error) {
	workers := make([]*worker, 0, n)
	for i := 0; i < n; i++ {
		endpoint := p.nextEndpoint()
		s, err := p.opener.Open(ctx, p.profileFor(endpoint))
		if err != nil {
			if ctx.Err() != nil {
				return workers, ctx.Err()
			}
			return workers, errs.Wrap(errs.ErrorTypeFatal, err, fmt.Sprintf("cannot launch browser session %d", i))
		}
		workers = append(workers, &worker{id: i, session: s, endpoint: endpoint})
	}
	return workers, nil
}

// recycleUnhealthy reopens sessions whose proxy was marked unhealthy
func (p *Pool) recycleUnhealthy(ctx context.Context, workers []*worker) {
	if p.proxies == nil {
		return
	}
	for _, w := range workers {
		if w.endpoint == nil {
			continue
		}
		h, ok := p.proxies.Health(w.endpoint.Key())
		if !ok || h.IsHealthy {
			continue
		}
		endpoint := p.nextEndpoint()
		if endpoint == nil || endpoint.Key() == w.endpoint.Key() {
			continue
		}
		s, err := p.opener.Open(ctx, p.profileFor(endpoint))
		if err != nil {
			p.log.WarnWithFields("could not reopen session on new proxy", map[string]interface{}{
				"worker_id": w.id,
				"endpoint":  endpoint.Key(),
				"error":     err.Error(),
			})
			continue
		}
		browser.CloseQuietly(w.session)
		p.log.InfoWithFields("session moved to new proxy", map[string]interface{}{
			"worker_id": w.id,
			"from":      w.endpoint.Key(),
			"to":        endpoint.Key(),
		})
		w.session, w.endpoint = s, endpoint
	}
}

func (p *Pool) closeWorkers(workers []*worker) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(s browser.Session) {
			defer wg.Done()
			browser.CloseQuietly(s)
		}(w.session)
	}
	wg.Wait()
}
