// Package ratelimit throttles page navigations.
//
// PerMinute returns a SlidingWindow that admits at most N navigations in any
// trailing minute. Wait honours context cancellation so a job deadline
// interrupts a throttled worker.
//
//	limiter := ratelimit.PerMinute(cfg.Extraction.RequestsPerMinute)
//	if err := limiter.Wait(ctx); err != nil {
//		return err
//	}
package ratelimit
