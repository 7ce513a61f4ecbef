// Package orchestrator composes discovery, extraction and retry rounds into
// one job run and reports its progress to a job-state sink.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"galleryscraper/internal/discovery"
	"galleryscraper/internal/extractor"
	"galleryscraper/internal/failures"
	"galleryscraper/internal/navigator"
	"galleryscraper/internal/scheduler"
	"galleryscraper/pkg/browser"
	"galleryscraper/pkg/capture"
	errs "galleryscraper/pkg/errors"
	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/metrics"
	"galleryscraper/pkg/models"
	"galleryscraper/pkg/pagequery"
	"galleryscraper/pkg/proxy"
	"galleryscraper/pkg/ratelimit"
	"galleryscraper/pkg/retry"
	"galleryscraper/pkg/storage"
)

// ErrBudgetExceeded is wrapped when a job outlives its MaxDuration
var ErrBudgetExceeded = errors.New("job exceeded its maximum duration")

// Sink receives job progress. OnProgress is called at batch boundaries;
// exactly one of OnComplete or OnError ends a run.
type Sink interface {
	OnProgress(attempted, succeeded, total int)
	OnComplete(records []models.ExtractionRecord)
	OnError(err error)
}

// PhaseSink is implemented by sinks that also follow phase changes
type PhaseSink interface {
	OnPhase(phase models.JobPhase)
}

type nopSink struct{}

func (nopSink) OnProgress(int, int, int)              {}
func (nopSink) OnComplete([]models.ExtractionRecord) {}
func (nopSink) OnError(error)                        {}

// Report is the outcome of one run
type Report struct {
	JobID    string
	State    models.JobRunState
	Records  []models.ExtractionRecord
	Failures []models.FailureRecord
	// Resumed is true when discovery was skipped in favour of a checkpoint
	Resumed        bool
	Discovery      discovery.Result
	RetryRounds    int
	RecordsPath    string
	FailureLogPath string
	Duration       time.Duration
}

// Orchestrator runs jobs. Process-wide collaborators (proxies, VPN,
// capture cache) are injected and shared across runs.
type Orchestrator struct {
	settings Settings
	opener   browser.Opener
	store    *storage.Manager
	query    pagequery.Query

	proxies *proxy.Manager
	checker proxy.Checker
	rotator scheduler.Rotator
	capture *capture.Cache
	sink    Sink
	sleep   retry.Sleeper
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
	log     logger.Logger

	mu    sync.RWMutex
	state models.JobRunState
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithSink reports progress to s
func WithSink(s Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithProxies routes sessions through m. checker, when set, is used by the
// background health loop to probe unhealthy endpoints.
func WithProxies(m *proxy.Manager, checker proxy.Checker) Option {
	return func(o *Orchestrator) {
		o.proxies = m
		o.checker = checker
	}
}

// WithRotator rotates network identity between batches and rounds
func WithRotator(r scheduler.Rotator) Option {
	return func(o *Orchestrator) { o.rotator = r }
}

// WithCapture observes session responses into c and merges its entries
// into extracted records
func WithCapture(c *capture.Cache) Option {
	return func(o *Orchestrator) { o.capture = c }
}

// WithQuery replaces the page-query strategy chain
func WithQuery(q pagequery.Query) Option {
	return func(o *Orchestrator) { o.query = q }
}

// WithSleeper replaces every timed wait
func WithSleeper(s retry.Sleeper) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sleep = s
		}
	}
}

// WithMetrics records job metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithIDGenerator replaces job id generation
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an Orchestrator writing its artifacts to store
func New(settings Settings, opener browser.Opener, store *storage.Manager, log logger.Logger, opts ...Option) *Orchestrator {
	if settings.RecordsFile == "" {
		settings.RecordsFile = "records.json"
	}
	if settings.FailureLogFile == "" {
		settings.FailureLogFile = "failures.log"
	}
	o := &Orchestrator{
		settings: settings,
		opener:   opener,
		store:    store,
		query:    pagequery.DefaultChain(),
		sink:     nopSink{},
		sleep:    retry.Wait,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      logger.OrDefault(log),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns a copy of the current run state
func (o *Orchestrator) State() models.JobRunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) update(fn func(s *models.JobRunState)) models.JobRunState {
	o.mu.Lock()
	fn(&o.state)
	state := o.state
	o.mu.Unlock()
	return state
}

func (o *Orchestrator) enter(phase models.JobPhase) {
	state := o.update(func(s *models.JobRunState) { s.Phase = phase })
	o.log.InfoWithFields("job phase changed", map[string]interface{}{
		"job_id": state.JobID,
		"phase":  string(phase),
	})
	if ps, ok := o.sink.(PhaseSink); ok {
		ps.OnPhase(phase)
	}
}

// Run executes one job against the collection at entryURL. With resume set,
// a complete discovery checkpoint for entryURL replaces discovery. A
// returned error is always job-fatal; per-item failures end up in the
// report and the failure log.
func (o *Orchestrator) Run(ctx context.Context, entryURL string, resume bool) (*Report, error) {
	started := o.now()
	jobID := o.newID()
	o.update(func(s *models.JobRunState) { *s = models.JobRunState{JobID: jobID} })
	o.enter(models.PhaseInitializing)

	report := &Report{JobID: jobID}
	if o.settings.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.MaxDuration)
		defer cancel()
	}

	log := o.log.WithField("job_id", jobID)
	logger.LogComponentStart(log, "job", map[string]interface{}{
		"entry_url":   entryURL,
		"concurrency": o.settings.Concurrency,
		"resume":      resume,
	})

	if loop := o.startHealthLoop(); loop != nil {
		defer loop.Stop()
	}

	nav := o.navigator()
	links := models.NewLinkSet()

	o.enter(models.PhaseDiscovering)
	resumed, err := o.loadCheckpoint(entryURL, resume, links)
	if err != nil {
		return o.fail(report, started, err)
	}
	report.Resumed = resumed
	if !resumed {
		res, err := o.discover(ctx, nav, entryURL, jobID, links)
		report.Discovery = res
		if err != nil {
			return o.fail(report, started, o.budget(ctx, err))
		}
	}
	discovered := links.Links()
	o.update(func(s *models.JobRunState) { s.Discovered = len(discovered) })
	o.metrics.SetDiscovered(len(discovered))
	log.InfoWithFields("discovery finished", map[string]interface{}{
		"items":   len(discovered),
		"resumed": resumed,
		"reason":  report.Discovery.Reason,
	})

	table := failures.NewTable()
	records := newRecordSet(discovered)
	pool := o.pool(nav)

	o.enter(models.PhaseExtracting)
	res, err := pool.ExtractAll(ctx, discovered, extractor.RunOptions{
		Concurrency: o.settings.Concurrency,
		BatchDelay:  o.settings.BatchDelay,
		Failures:    table,
		OnProgress:  o.progress,
		OnBatch:     o.rotateEvery,
	})
	if res != nil {
		records.merge(res.Records)
	}
	if err != nil {
		if !o.expired(ctx, err) {
			return o.fail(report, started, err)
		}
		return o.finalizeExpired(report, started, records, table, err)
	}
	o.metrics.SetPendingFailures(table.Len())

	o.enter(models.PhaseRetrying)
	sched := scheduler.New(o.settings.Retry, pool, log,
		scheduler.WithRotator(o.rotator),
		scheduler.WithSleeper(o.sleep),
		scheduler.WithMetrics(o.metrics),
		scheduler.WithRoundHook(func(round, pending int) {
			o.update(func(s *models.JobRunState) { s.RetryRound = round })
		}),
	)
	retried, err := sched.RetryFailures(ctx, table, links)
	if retried != nil {
		records.merge(retried.Records)
		report.RetryRounds = retried.Rounds
		if retried.Recovered > 0 {
			o.update(func(s *models.JobRunState) { s.Succeeded += retried.Recovered })
		}
	}
	if err != nil {
		if !o.expired(ctx, err) {
			return o.fail(report, started, err)
		}
		return o.finalizeExpired(report, started, records, table, err)
	}

	if err := o.finalize(report, records, table); err != nil {
		return o.fail(report, started, err)
	}

	o.enter(models.PhaseCompleted)
	report.State = o.State()
	report.Duration = o.now().Sub(started)
	logger.LogComponentStop(log, "job", "completed")
	o.sink.OnComplete(report.Records)
	return report, nil
}

// progress forwards initial-pass counters to the state and sink
func (o *Orchestrator) progress(attempted, succeeded, total int) {
	o.update(func(s *models.JobRunState) {
		s.Attempted = attempted
		s.Succeeded = succeeded
		s.Failed = attempted - succeeded
	})
	o.sink.OnProgress(attempted, succeeded, total)
}

// rotateEvery changes network identity after every N initial-pass batches
func (o *Orchestrator) rotateEvery(ctx context.Context, batch int) {
	every := o.settings.RotateEveryBatches
	if every <= 0 || o.rotator == nil || !o.rotator.Enabled() || batch%every != 0 {
		return
	}
	if !o.rotator.Rotate(ctx) {
		o.log.WarnWithFields("network identity rotation failed", map[string]interface{}{
			"batch": batch,
		})
	}
}

func (o *Orchestrator) navigator() *navigator.Navigator {
	opts := []navigator.Option{
		navigator.WithSleeper(o.sleep),
		navigator.WithMetrics(o.metrics),
	}
	if o.settings.NavigationAttempts > 0 {
		opts = append(opts, navigator.WithMaxAttempts(o.settings.NavigationAttempts))
	}
	if o.settings.NavigationTimeout > 0 {
		opts = append(opts, navigator.WithTimeout(o.settings.NavigationTimeout))
	}
	if o.settings.RequestsPerMinute > 0 {
		opts = append(opts, navigator.WithLimiter(ratelimit.PerMinute(o.settings.RequestsPerMinute)))
	}
	return navigator.New(o.log, opts...)
}

func (o *Orchestrator) profile() browser.Profile {
	profile := o.settings.Profile
	if o.capture.Enabled() {
		profile.Observer = o.capture
	}
	return profile
}

func (o *Orchestrator) pool(nav *navigator.Navigator) *extractor.Pool {
	opts := []extractor.Option{
		extractor.WithSleeper(o.sleep),
		extractor.WithMetrics(o.metrics),
	}
	if o.capture != nil {
		opts = append(opts, extractor.WithSideChannels(o.capture))
	}
	if o.proxies != nil && o.proxies.Len() > 0 {
		opts = append(opts, extractor.WithProxies(o.proxies))
	}
	return extractor.New(extractor.Config{
		Profile:       o.profile(),
		ReadySelector: o.settings.ReadySelector,
		WaitTimeout:   o.settings.WaitTimeout,
	}, o.opener, nav, o.query, o.log, opts...)
}

func (o *Orchestrator) startHealthLoop() *proxy.HealthLoop {
	if o.proxies == nil || o.proxies.Len() == 0 || o.settings.ProxyHealthInterval <= 0 {
		return nil
	}
	loop := proxy.NewHealthLoop(o.proxies, o.settings.ProxyHealthInterval, o.checker, o.log)
	loop.Start()
	return loop
}

func (o *Orchestrator) loadCheckpoint(entryURL string, resume bool, links *models.LinkSet) (bool, error) {
	if !resume {
		return false, nil
	}
	cp, err := o.store.LoadCheckpoint(entryURL)
	if err != nil {
		return false, errs.Wrap(errs.ErrorTypeFatal, err, "cannot read discovery checkpoint")
	}
	if cp == nil {
		return false, nil
	}
	links.Merge(cp.Links)
	return cp.Complete, nil
}

// discover runs discovery on a dedicated session and checkpoints the result
func (o *Orchestrator) discover(ctx context.Context, nav *navigator.Navigator, entryURL, jobID string, links *models.LinkSet) (discovery.Result, error) {
	collector, err := pagequery.NewLinkCollector(o.settings.ItemSelector, o.settings.LinkPattern)
	if err != nil {
		return discovery.Result{}, errs.Wrap(errs.ErrorTypeFatal, err, "invalid discovery configuration")
	}

	profile := o.profile()
	var endpoint *proxy.Endpoint
	if o.proxies != nil {
		if e, ok := o.proxies.Next(); ok {
			endpoint = &e
			profile.Proxy = e.Settings()
		}
	}
	session, err := o.opener.Open(ctx, profile)
	if err != nil {
		if ctx.Err() != nil {
			return discovery.Result{}, ctx.Err()
		}
		return discovery.Result{}, errs.Wrap(errs.ErrorTypeFatal, err, "cannot launch discovery session")
	}
	defer browser.CloseQuietly(session)

	engine := discovery.New(o.settings.Discovery, nav, o.settings.ItemSelector, o.log,
		discovery.WithSleeper(o.sleep),
		discovery.WithMetrics(o.metrics),
	)
	res, err := engine.Discover(ctx, session, entryURL, collector, links)
	if endpoint != nil {
		proxy.Report(o.proxies, *endpoint, err)
	}
	complete := err == nil
	if err := o.store.SaveCheckpoint(&storage.Checkpoint{
		JobID:    jobID,
		EntryURL: entryURL,
		Links:    links.Links(),
		Complete: complete,
	}); err != nil {
		o.log.WithError(err).Warn("failed to save discovery checkpoint")
	}
	return res, err
}

// finalize writes the records file and, when failures remain, the failure log
func (o *Orchestrator) finalize(report *Report, records *recordSet, table *failures.Table) error {
	o.enter(models.PhaseFinalizing)

	report.Records = records.list()
	report.Failures = table.Snapshot()
	o.update(func(s *models.JobRunState) { s.Failed = len(report.Failures) })

	path, err := o.store.SaveRecords(o.settings.RecordsFile, report.Records)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeFatal, err, "cannot write extraction records")
	}
	report.RecordsPath = path

	logPath, written, err := o.store.WriteFailureLog(o.settings.FailureLogFile, report.JobID, report.Failures, o.now())
	if err != nil {
		return errs.Wrap(errs.ErrorTypeFatal, err, "cannot write failure log")
	}
	if written {
		report.FailureLogPath = logPath
		o.log.WarnWithFields("job finished with failures", map[string]interface{}{
			"job_id":      report.JobID,
			"failures":    len(report.Failures),
			"failure_log": logPath,
		})
	}

	if err := o.store.DeleteCheckpoint(); err != nil {
		o.log.WithError(err).Warn("failed to delete discovery checkpoint")
	}
	return nil
}

// finalizeExpired keeps what was extracted before the budget ran out, then
// fails the job
func (o *Orchestrator) finalizeExpired(report *Report, started time.Time, records *recordSet, table *failures.Table, cause error) (*Report, error) {
	if err := o.finalize(report, records, table); err != nil {
		o.log.WithError(err).Error("failed to write results after budget expiry")
	}
	return o.fail(report, started, o.budgetError(cause))
}

func (o *Orchestrator) expired(ctx context.Context, err error) bool {
	return o.settings.MaxDuration > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded)
}

// budget converts a deadline error caused by MaxDuration into a fatal error
func (o *Orchestrator) budget(ctx context.Context, err error) error {
	if o.expired(ctx, err) {
		return o.budgetError(err)
	}
	return err
}

func (o *Orchestrator) budgetError(cause error) error {
	return &errs.Error{
		Type:    errs.ErrorTypeFatal,
		Message: fmt.Sprintf("job stopped after %s", o.settings.MaxDuration),
		Cause:   fmt.Errorf("%w: %w", ErrBudgetExceeded, cause),
	}
}

func (o *Orchestrator) fail(report *Report, started time.Time, err error) (*Report, error) {
	if !errs.IsFatal(err) {
		err = errs.Wrap(errs.ErrorTypeFatal, err, err.Error())
	}
	state := o.update(func(s *models.JobRunState) {
		s.Phase = models.PhaseFailed
		s.Error = err.Error()
	})
	if ps, ok := o.sink.(PhaseSink); ok {
		ps.OnPhase(models.PhaseFailed)
	}

	report.State = state
	report.Duration = o.now().Sub(started)
	o.log.WithError(err).WithField("job_id", report.JobID).Error("job failed")
	o.sink.OnError(err)
	return report, err
}
