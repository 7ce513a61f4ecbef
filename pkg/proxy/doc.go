// Package proxy parses proxy URIs and rotates over them.
//
// Manager.Next walks the list round-robin, skipping endpoints whose failure
// streak reached the maximum (3 by default). When every endpoint is
// unhealthy it still returns one, so callers must tolerate a degraded pick.
// Each endpoint's health is guarded by its own mutex.
//
// HealthLoop runs on a robfig/cron schedule and only ever restores endpoints.
package proxy
