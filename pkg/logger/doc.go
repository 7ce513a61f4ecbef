// Package logger provides the structured logging interface used across the
// gallery scraper.
//
// It wraps zerolog and exposes field-oriented helpers:
//
//	log := logger.GetLogger().WithField("component", "extractor")
//	log.InfoWithFields("batch finished", map[string]interface{}{
//	    "batch":     3,
//	    "succeeded": 5,
//	})
//
// Components accept a Logger at construction time; tests pass NewNopLogger()
// or NewTestLogger() when they need to assert on emitted messages.
package logger
