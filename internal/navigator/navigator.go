// Package navigator wraps a browser navigation with classified retries.
//
// 5xx responses and transport failures back off 2s*2^(k-1), 429 backs off
// 5s*2^(k-1), and 401/403/404 return immediately. Exhausting the attempts
// yields an *errors.Error carrying the last status and cause.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"galleryscraper/pkg/browser"
	errs "galleryscraper/pkg/errors"
	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/metrics"
	"galleryscraper/pkg/ratelimit"
	"galleryscraper/pkg/retry"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 30 * time.Second
)

// Navigator navigates sessions with retry
type Navigator struct {
	maxAttempts int
	timeout     time.Duration
	wait        browser.WaitCondition
	backoff     *retry.ErrorTypeBackoff
	limiter     ratelimit.Limiter
	sleep       retry.Sleeper
	metrics     *metrics.Metrics
	log         logger.Logger
}

// Option configures a Navigator
type Option func(*Navigator)

// WithMaxAttempts sets the default attempt budget
func WithMaxAttempts(n int) Option {
	return func(nv *Navigator) {
		if n > 0 {
			nv.maxAttempts = n
		}
	}
}

// WithTimeout sets the hard timeout of each attempt
func WithTimeout(d time.Duration) Option {
	return func(nv *Navigator) {
		if d > 0 {
			nv.timeout = d
		}
	}
}

// WithWait sets the post-response wait condition
func WithWait(w browser.WaitCondition) Option {
	return func(nv *Navigator) { nv.wait = w }
}

// WithLimiter throttles every attempt
func WithLimiter(l ratelimit.Limiter) Option {
	return func(nv *Navigator) {
		if l != nil {
			nv.limiter = l
		}
	}
}

// WithSleeper replaces the backoff wait
func WithSleeper(s retry.Sleeper) Option {
	return func(nv *Navigator) {
		if s != nil {
			nv.sleep = s
		}
	}
}

// WithBackoff replaces the per-classification backoff schedule
func WithBackoff(b *retry.ErrorTypeBackoff) Option {
	return func(nv *Navigator) {
		if b != nil {
			nv.backoff = b
		}
	}
}

// WithMetrics records attempt outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(nv *Navigator) { nv.metrics = m }
}

// New creates a Navigator
func New(log logger.Logger, opts ...Option) *Navigator {
	nv := &Navigator{
		maxAttempts: DefaultMaxAttempts,
		timeout:     DefaultTimeout,
		wait:        browser.WaitLoad,
		backoff:     retry.NewNavigationBackoff(),
		limiter:     ratelimit.Unlimited{},
		sleep:       retry.Wait,
		log:         logger.OrDefault(log),
	}
	for _, opt := range opts {
		opt(nv)
	}
	return nv
}

// MaxAttempts returns the default attempt budget
func (nv *Navigator) MaxAttempts() int {
	return nv.maxAttempts
}

// Navigate navigates with the default attempt budget
func (nv *Navigator) Navigate(ctx context.Context, s browser.Session, url string) (browser.ResponseMeta, error) {
	return nv.NavigateAttempts(ctx, s, url, nv.maxAttempts)
}

// NavigateAttempts navigates s to url, trying at most maxAttempts times
func (nv *Navigator) NavigateAttempts(ctx context.Context, s browser.Session, url string, maxAttempts int) (browser.ResponseMeta, error) {
	if maxAttempts <= 0 {
		maxAttempts = nv.maxAttempts
	}

	var (
		meta     browser.ResponseMeta
		attempts int
	)
	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		var opErr error
		meta, opErr = nv.attempt(ctx, s, url, attempt)
		return opErr
	}, &retry.Config{
		MaxAttempts: maxAttempts,
		BackoffFor:  nv.backoff.ForError,
		RetryIf: func(err error) bool {
			return ctx.Err() == nil && retry.DefaultRetryIf(err)
		},
		Sleep:  nv.sleep,
		Logger: nv.log,
	})
	if err == nil {
		return meta, nil
	}

	if errors.Is(err, retry.ErrMaxAttempts) {
		nv.metrics.ObserveNavigation(metrics.OutcomeExhausted, 0)
		return meta, exhausted(err, attempts)
	}
	return meta, err
}

func (nv *Navigator) attempt(ctx context.Context, s browser.Session, url string, attempt int) (browser.ResponseMeta, error) {
	if err := nv.limiter.Wait(ctx); err != nil {
		return browser.ResponseMeta{}, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, nv.timeout)
	defer cancel()

	start := time.Now()
	meta, err := s.Navigate(attemptCtx, url, browser.NavigateOptions{Wait: nv.wait, Timeout: nv.timeout})
	duration := time.Since(start)

	var classified *errs.Error
	switch {
	case err != nil && ctx.Err() != nil:
		logger.LogNavigation(nv.log, url, attempt, meta.Status, duration, err)
		return meta, ctx.Err()
	case err != nil:
		classified = errs.FromTransport(err)
	default:
		classified = errs.FromStatus(meta.Status)
	}

	logger.LogNavigation(nv.log, url, attempt, meta.Status, duration, err)

	if classified == nil {
		nv.metrics.ObserveNavigation(metrics.OutcomeOK, duration)
		return meta, nil
	}
	if errs.IsTerminal(classified) {
		nv.metrics.ObserveNavigation(metrics.OutcomeTerminal, duration)
	} else {
		nv.metrics.ObserveNavigation(metrics.OutcomeRetry, duration)
	}
	return meta, classified
}

// exhausted builds the terminal error returned once attempts ran out
func exhausted(err error, attempts int) *errs.Error {
	last := errs.FromTransport(err)
	return &errs.Error{
		Type:    last.Type,
		Code:    last.Code,
		Message: fmt.Sprintf("navigation failed after %d attempts: %s", attempts, last.Message),
		Cause:   err,
	}
}

// Exhausted reports whether err came from running out of attempts
func Exhausted(err error) bool {
	return errors.Is(err, retry.ErrMaxAttempts)
}
