package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LogNavigation logs the outcome of one navigation attempt
func LogNavigation(l Logger, url string, attempt, status int, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"url":         url,
		"attempt":     attempt,
		"http_status": status,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case err != nil:
		l.WithError(err).WarnWithFields("navigation failed", fields)
	case status >= 400:
		l.WarnWithFields("navigation returned error status", fields)
	default:
		l.DebugWithFields("navigation completed", fields)
	}
}

// LogDiscoveryStep logs one state transition of the discovery engine
func LogDiscoveryStep(l Logger, step int, state string, items int) {
	l.DebugWithFields("discovery step", map[string]interface{}{
		"step":  step,
		"state": state,
		"items": items,
	})
}

// LogBatchProgress logs extraction progress after a batch settles
func LogBatchProgress(l Logger, batch, attempted, succeeded, total int) {
	percentage := 0.0
	if total > 0 {
		percentage = float64(attempted) / float64(total) * 100
	}

	l.InfoWithFields("extraction progress", map[string]interface{}{
		"batch":      batch,
		"attempted":  attempted,
		"succeeded":  succeeded,
		"total":      total,
		"percentage": fmt.Sprintf("%.1f%%", percentage),
	})
}

// LogRetryRound logs the start of a retry round
func LogRetryRound(l Logger, round, pending, skipped int, delay time.Duration) {
	l.InfoWithFields("starting retry round", map[string]interface{}{
		"round":    round,
		"pending":  pending,
		"skipped":  skipped,
		"delay_ms": delay.Milliseconds(),
	})
}

// LogProxyEvent logs a proxy health transition
func LogProxyEvent(l Logger, endpoint, event string, consecutiveFailures int) {
	l.WithFields(map[string]interface{}{
		"endpoint":             endpoint,
		"event":                event,
		"consecutive_failures": consecutiveFailures,
	}).Info("proxy health changed")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	entry := l.WithField("component", component)
	if len(config) > 0 {
		entry = entry.WithFields(config)
	}
	entry.Info("component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("component stopped")
}

// OrDefault returns l, or the global logger when l is nil
func OrDefault(l Logger) Logger {
	if l == nil {
		return GetLogger()
	}
	return l
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
