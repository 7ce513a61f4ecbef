package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	errs "galleryscraper/pkg/errors"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay to wait after the given 1-indexed attempt
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff yields BaseDelay * Multiplier^(attempt-1)
type ExponentialBackoff struct {
	BaseDelay time.Duration
	// MaxDelay caps the delay; zero means uncapped
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	return applyJitter(delay, eb.JitterFactor)
}

// LinearBackoff yields BaseDelay + Increment*(attempt-1)
type LinearBackoff struct {
	BaseDelay time.Duration
	// MaxDelay caps the delay; zero means uncapped
	MaxDelay     time.Duration
	Increment    time.Duration
	JitterFactor float64
}

// Multiple returns a linear backoff yielding step*attempt
func Multiple(step time.Duration) *LinearBackoff {
	return &LinearBackoff{BaseDelay: step, Increment: step}
}

// NextDelay calculates the next delay with linear backoff
func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(lb.BaseDelay + lb.Increment*time.Duration(attempt-1))
	if lb.MaxDelay > 0 && delay > float64(lb.MaxDelay) {
		delay = float64(lb.MaxDelay)
	}
	return applyJitter(delay, lb.JitterFactor)
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

func applyJitter(delay, factor float64) time.Duration {
	if factor > 0 {
		jitter := delay * factor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Sleeper waits for a delay or until the context is cancelled
type Sleeper func(ctx context.Context, delay time.Duration) error

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorTypeBackoff picks a strategy per error classification
type ErrorTypeBackoff struct {
	// ServerErrorBackoff is used for 5xx and transport failures
	ServerErrorBackoff BackoffStrategy
	// RateLimitBackoff is used for 429 responses
	RateLimitBackoff BackoffStrategy
	DefaultBackoff   BackoffStrategy
}

// NewNavigationBackoff returns the schedule used between navigation attempts:
// 2s*2^(k-1) for 5xx and transport errors, 5s*2^(k-1) for 429.
func NewNavigationBackoff() *ErrorTypeBackoff {
	server := &ExponentialBackoff{BaseDelay: 2 * time.Second, Multiplier: 2.0}
	return &ErrorTypeBackoff{
		ServerErrorBackoff: server,
		RateLimitBackoff:   &ExponentialBackoff{BaseDelay: 5 * time.Second, Multiplier: 2.0},
		DefaultBackoff:     server,
	}
}

// ForError returns the strategy matching err's classification
func (etb *ErrorTypeBackoff) ForError(err error) BackoffStrategy {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeRateLimit:
		return etb.RateLimitBackoff
	case errs.ErrorTypeServerError, errs.ErrorTypeNetwork, errs.ErrorTypeTimeout:
		return etb.ServerErrorBackoff
	default:
		return etb.DefaultBackoff
	}
}
