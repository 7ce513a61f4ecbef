package proxy

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"galleryscraper/pkg/logger"
)

// DefaultHealthInterval is how often the health loop runs
const DefaultHealthInterval = 60 * time.Second

// Checker actively probes one endpoint
type Checker func(ctx context.Context, e Endpoint) error

// HealthLoop periodically resets stale unhealthy endpoints and, when a
// Checker is set, probes unhealthy endpoints back into rotation. It never
// marks endpoints unhealthy itself.
type HealthLoop struct {
	manager  *Manager
	interval time.Duration
	checker  Checker
	timeout  time.Duration
	logger   logger.Logger
	cron     *cron.Cron
}

// NewHealthLoop creates a loop over m; checker may be nil
func NewHealthLoop(m *Manager, interval time.Duration, checker Checker, log logger.Logger) *HealthLoop {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthLoop{
		manager:  m,
		interval: interval,
		checker:  checker,
		timeout:  15 * time.Second,
		logger:   logger.OrDefault(log),
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start schedules the loop
func (h *HealthLoop) Start() {
	h.cron.Schedule(cron.Every(h.interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.interval)
		defer cancel()
		h.RunOnce(ctx)
	}))
	h.cron.Start()
	logger.LogComponentStart(h.logger, "proxy_health_loop", map[string]interface{}{
		"interval":  h.interval.String(),
		"endpoints": h.manager.Len(),
		"probing":   h.checker != nil,
	})
}

// Stop halts scheduling and waits for a running pass to finish
func (h *HealthLoop) Stop() {
	<-h.cron.Stop().Done()
	logger.LogComponentStop(h.logger, "proxy_health_loop", "stopped")
}

// RunOnce performs a single pass and returns how many endpoints returned to
// rotation.
func (h *HealthLoop) RunOnce(ctx context.Context) int {
	restored := h.manager.ResetStale()
	if h.checker == nil {
		return restored
	}

	for _, health := range h.manager.Snapshot() {
		if health.IsHealthy {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		en := h.manager.index[health.EndpointKey]

		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checker(probeCtx, en.endpoint)
		cancel()
		if err != nil {
			h.logger.DebugWithFields("proxy probe failed", map[string]interface{}{
				"endpoint": health.EndpointKey,
				"error":    err.Error(),
			})
			continue
		}
		h.manager.RecordSuccess(en.endpoint)
		restored++
	}
	return restored
}
