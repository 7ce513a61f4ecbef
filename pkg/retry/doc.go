// Package retry provides backoff strategies and a retry loop for transient
// failures in page navigation and retry-round scheduling.
//
// Strategies:
//   - ExponentialBackoff: BaseDelay * Multiplier^(attempt-1), optional cap and jitter
//   - LinearBackoff: BaseDelay + Increment*(attempt-1); Multiple(step) yields step*attempt
//   - ConstantBackoff: fixed delay
//   - ErrorTypeBackoff: chooses a strategy from the error classification
//
// Basic usage:
//
//	nav := retry.NewNavigationBackoff()
//	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
//		return visit(ctx, url)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		BackoffFor:  nav.ForError,
//		Logger:      log,
//	})
//
// Terminal classifications (auth, forbidden, not found) are never retried by
// DefaultRetryIf. Context cancellation aborts both attempts and waits.
package retry
