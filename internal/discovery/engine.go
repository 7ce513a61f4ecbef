package discovery

import (
	"context"
	"fmt"
	"time"

	"galleryscraper/pkg/browser"
	errs "galleryscraper/pkg/errors"
	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/metrics"
	"galleryscraper/pkg/models"
	"galleryscraper/pkg/retry"
)

// Step states reported to logs and metrics
const (
	StateScrolling       = "scrolling"
	StateClickingControl = "clicking_control"
	StatePatience        = "patience"
	StateTerminated      = "terminated"
)

// Termination reasons
const (
	ReasonMaxItems     = "max_items"
	ReasonMaxSteps     = "max_steps"
	ReasonEndOfContent = "end_of_content"
	ReasonLoopGuard    = "loop_guard"
)

// Config bounds one discovery run
type Config struct {
	// MaxItems stops discovery once this many links are known; zero is unbounded
	MaxItems int
	// MaxSteps caps scroll/click iterations; zero is unbounded
	MaxSteps       int
	ClickDelay     time.Duration
	ScrollDelay    time.Duration
	PatienceRounds int
	PatienceDelay  time.Duration
}

// DefaultConfig returns the standard discovery settings
func DefaultConfig() Config {
	return Config{
		MaxSteps:       500,
		ClickDelay:     2 * time.Second,
		ScrollDelay:    1500 * time.Millisecond,
		PatienceRounds: 5,
		PatienceDelay:  2 * time.Second,
	}
}

// Navigator opens the entry page
type Navigator interface {
	Navigate(ctx context.Context, s browser.Session, url string) (browser.ResponseMeta, error)
}

// Collector reads item links out of the current DOM state
type Collector interface {
	Collect(ctx context.Context, s browser.Session) ([]models.DiscoveredLink, error)
}

// CollectFunc adapts a function to the engine's per-step collection
type CollectFunc func(ctx context.Context) ([]models.DiscoveredLink, error)

// Result summarizes a finished run
type Result struct {
	Steps  int
	Links  int
	Reason string
}

type stateKey struct {
	url   string
	count int
}

// Engine drives one session through scroll and pagination cycles
type Engine struct {
	cfg      Config
	nav      Navigator
	newProbe func(browser.Session) Probe
	sleep    retry.Sleeper
	metrics  *metrics.Metrics
	log      logger.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithSleeper replaces the timer-based waits
func WithSleeper(s retry.Sleeper) Option {
	return func(e *Engine) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithProbeFactory replaces the script-backed probe
func WithProbeFactory(fn func(browser.Session) Probe) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newProbe = fn
		}
	}
}

// WithMetrics records steps and link counts
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine; itemSelector counts items for the page-state key
func New(cfg Config, nav Navigator, itemSelector string, log logger.Logger, opts ...Option) *Engine {
	if cfg.PatienceRounds <= 0 {
		cfg.PatienceRounds = DefaultConfig().PatienceRounds
	}
	e := &Engine{
		cfg:   cfg,
		nav:   nav,
		sleep: retry.Wait,
		log:   logger.OrDefault(log),
	}
	e.newProbe = func(s browser.Session) Probe { return NewScriptProbe(s, itemSelector) }
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover navigates s to entryURL and enumerates item links into links.
// Failing to open the entry page is job-fatal.
func (e *Engine) Discover(ctx context.Context, s browser.Session, entryURL string, collector Collector, links *models.LinkSet) (Result, error) {
	logger.LogComponentStart(e.log, "discovery", map[string]interface{}{
		"entry_url":       entryURL,
		"max_items":       e.cfg.MaxItems,
		"patience_rounds": e.cfg.PatienceRounds,
	})

	if _, err := e.nav.Navigate(ctx, s, entryURL); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &errs.Error{
			Type:    errs.ErrorTypeFatal,
			Code:    errs.StatusOf(err),
			Message: fmt.Sprintf("entry page %s unreachable", entryURL),
			Cause:   err,
		}
	}

	collect := func(ctx context.Context) ([]models.DiscoveredLink, error) {
		return collector.Collect(ctx, s)
	}
	res, err := e.Run(ctx, e.newProbe(s), collect, links)
	logger.LogComponentStop(e.log, "discovery", res.Reason)
	return res, err
}

// Run executes the scroll/click state machine on an already loaded page
func (e *Engine) Run(ctx context.Context, probe Probe, collect CollectFunc, links *models.LinkSet) (Result, error) {
	res := Result{}
	if err := e.collect(ctx, collect, links); err != nil {
		return e.finish(res, links, ""), err
	}

	visited := make(map[stateKey]bool)
	clickProgressed := false

	for {
		if e.cfg.MaxItems > 0 && links.Len() >= e.cfg.MaxItems {
			return e.finish(res, links, ReasonMaxItems), nil
		}
		if e.cfg.MaxSteps > 0 && res.Steps >= e.cfg.MaxSteps {
			return e.finish(res, links, ReasonMaxSteps), nil
		}
		res.Steps++

		state, err := probe.State(ctx)
		if err != nil {
			return e.finish(res, links, ""), fmt.Errorf("read page state: %w", err)
		}
		key := stateKey{url: state.URL, count: state.ItemCount}
		if visited[key] && !clickProgressed {
			e.log.InfoWithFields("page state repeated, stopping discovery", map[string]interface{}{
				"url":        state.URL,
				"item_count": state.ItemCount,
			})
			return e.finish(res, links, ReasonLoopGuard), nil
		}
		visited[key] = true
		clickProgressed = false

		progressed, err := e.tryControl(ctx, probe, state, res.Steps)
		if err != nil {
			return e.finish(res, links, ""), err
		}
		if progressed {
			clickProgressed = true
			if err := e.collect(ctx, collect, links); err != nil {
				return e.finish(res, links, ""), err
			}
			continue
		}

		grew, err := e.scroll(ctx, probe, res.Steps, links.Len())
		if err != nil {
			return e.finish(res, links, ""), err
		}
		if !grew {
			return e.finish(res, links, ReasonEndOfContent), nil
		}
		if err := e.collect(ctx, collect, links); err != nil {
			return e.finish(res, links, ""), err
		}
	}
}

// tryControl clicks a next/load-more control and reports whether the page
// advanced. A click that changes neither URL nor item count is discarded.
func (e *Engine) tryControl(ctx context.Context, probe Probe, before PageState, step int) (bool, error) {
	ctrl, err := probe.FindControl(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.log.DebugWithFields("control lookup failed", map[string]interface{}{"error": err.Error()})
		return false, nil
	}
	if ctrl == nil {
		return false, nil
	}

	logger.LogDiscoveryStep(e.log, step, StateClickingControl, before.ItemCount)
	e.metrics.IncDiscoveryStep(StateClickingControl)

	if err := probe.Click(ctx, *ctrl); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.log.DebugWithFields("control click failed", map[string]interface{}{
			"selector": ctrl.Selector,
			"error":    err.Error(),
		})
		return false, nil
	}
	if err := e.sleep(ctx, e.cfg.ClickDelay); err != nil {
		return false, err
	}

	after, err := probe.State(ctx)
	if err != nil {
		return false, fmt.Errorf("read page state: %w", err)
	}
	if after.URL == before.URL && after.ItemCount == before.ItemCount {
		e.log.DebugWithFields("control click made no progress", map[string]interface{}{
			"selector": ctrl.Selector,
			"strategy": ctrl.Strategy,
		})
		return false, nil
	}
	return true, nil
}

// scroll scrolls to the bottom, then waits up to PatienceRounds for growth
func (e *Engine) scroll(ctx context.Context, probe Probe, step, items int) (bool, error) {
	logger.LogDiscoveryStep(e.log, step, StateScrolling, items)
	e.metrics.IncDiscoveryStep(StateScrolling)

	before, err := probe.ScrollHeight(ctx)
	if err != nil {
		return false, fmt.Errorf("read scroll height: %w", err)
	}
	if err := probe.ScrollToBottom(ctx); err != nil {
		return false, fmt.Errorf("scroll to bottom: %w", err)
	}
	if err := e.sleep(ctx, e.cfg.ScrollDelay); err != nil {
		return false, err
	}
	after, err := probe.ScrollHeight(ctx)
	if err != nil {
		return false, fmt.Errorf("read scroll height: %w", err)
	}
	if after > before {
		return true, nil
	}

	logger.LogDiscoveryStep(e.log, step, StatePatience, items)
	e.metrics.IncDiscoveryStep(StatePatience)
	for round := 1; round <= e.cfg.PatienceRounds; round++ {
		if err := e.sleep(ctx, e.cfg.PatienceDelay); err != nil {
			return false, err
		}
		h, err := probe.ScrollHeight(ctx)
		if err != nil {
			return false, fmt.Errorf("read scroll height: %w", err)
		}
		if h > before {
			e.log.DebugWithFields("content grew during patience", map[string]interface{}{"round": round})
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) collect(ctx context.Context, collect CollectFunc, links *models.LinkSet) error {
	found, err := collect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.log.WarnWithFields("collecting items failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	added := links.Merge(found)
	e.metrics.SetDiscovered(links.Len())
	if added > 0 {
		e.log.DebugWithFields("links collected", map[string]interface{}{
			"added": added,
			"total": links.Len(),
		})
	}
	return nil
}

func (e *Engine) finish(res Result, links *models.LinkSet, reason string) Result {
	res.Links = links.Len()
	res.Reason = reason
	if reason != "" {
		logger.LogDiscoveryStep(e.log, res.Steps, StateTerminated, res.Links)
		e.log.InfoWithFields("discovery finished", map[string]interface{}{
			"reason": reason,
			"steps":  res.Steps,
			"links":  res.Links,
		})
	}
	return res
}
