package proxy

import (
	"sync"
	"time"

	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/metrics"
)

// DefaultMaxFailures marks an endpoint unhealthy after this many consecutive failures
const DefaultMaxFailures = 3

// Health is a snapshot of one endpoint's usage
type Health struct {
	EndpointKey         string
	TotalUses           int
	Successes           int
	ConsecutiveFailures int
	IsHealthy           bool
	LastUsedAt          time.Time
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
}

type entry struct {
	mu       sync.Mutex
	endpoint Endpoint
	health   Health
}

// Manager rotates over a fixed endpoint list, skipping unhealthy entries
type Manager struct {
	entries     []*entry
	index       map[string]*entry
	maxFailures int
	staleAfter  time.Duration
	now         func() time.Time
	logger      logger.Logger
	metrics     *metrics.Metrics

	cursorMu sync.Mutex
	cursor   int
}

// Option configures a Manager
type Option func(*Manager)

// WithMaxFailures overrides DefaultMaxFailures
func WithMaxFailures(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxFailures = n
		}
	}
}

// WithStaleAfter sets how long an unhealthy endpoint must sit unused
// before the health loop gives it another chance.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) { m.staleAfter = d }
}

// WithMetrics records health and selections
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager over endpoints; every endpoint starts healthy
func NewManager(endpoints []Endpoint, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		index:       make(map[string]*entry, len(endpoints)),
		maxFailures: DefaultMaxFailures,
		staleAfter:  5 * time.Minute,
		now:         time.Now,
		logger:      logger.OrDefault(log),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, e := range endpoints {
		if _, dup := m.index[e.Key()]; dup {
			continue
		}
		en := &entry{endpoint: e, health: Health{EndpointKey: e.Key(), IsHealthy: true}}
		m.entries = append(m.entries, en)
		m.index[e.Key()] = en
		m.metrics.SetProxyHealth(e.Key(), true)
	}
	return m
}

// Len returns the number of endpoints
func (m *Manager) Len() int {
	return len(m.entries)
}

// Next returns the next healthy endpoint in round-robin order. When none is
// healthy it returns the next endpoint anyway. ok is false only for an
// empty pool.
func (m *Manager) Next() (Endpoint, bool) {
	n := len(m.entries)
	if n == 0 {
		return Endpoint{}, false
	}

	m.cursorMu.Lock()
	defer m.cursorMu.Unlock()

	for i := 0; i < n; i++ {
		idx := (m.cursor + i) % n
		if m.entries[idx].healthy() {
			m.cursor = (idx + 1) % n
			m.metrics.IncProxySelection("healthy")
			return m.entries[idx].use(m.now()), true
		}
	}

	idx := m.cursor % n
	m.cursor = (idx + 1) % n
	m.metrics.IncProxySelection("degraded")
	m.logger.WarnWithFields("no healthy proxy available, using degraded endpoint", map[string]interface{}{
		"endpoint": m.entries[idx].endpoint.Key(),
	})
	return m.entries[idx].use(m.now()), true
}

// RecordSuccess resets the endpoint's failure streak
func (m *Manager) RecordSuccess(e Endpoint) {
	en, ok := m.index[e.Key()]
	if !ok {
		return
	}

	en.mu.Lock()
	wasHealthy := en.health.IsHealthy
	en.health.Successes++
	en.health.ConsecutiveFailures = 0
	en.health.IsHealthy = true
	en.health.LastSuccessAt = m.now()
	en.mu.Unlock()

	m.metrics.SetProxyHealth(e.Key(), true)
	if !wasHealthy {
		logger.LogProxyEvent(m.logger, e.Key(), "recovered", 0)
	}
}

// RecordFailure extends the endpoint's failure streak, marking it unhealthy
// once the streak reaches the configured maximum.
func (m *Manager) RecordFailure(e Endpoint) {
	en, ok := m.index[e.Key()]
	if !ok {
		return
	}

	en.mu.Lock()
	en.health.ConsecutiveFailures++
	en.health.LastFailureAt = m.now()
	failures := en.health.ConsecutiveFailures
	becameUnhealthy := en.health.IsHealthy && failures >= m.maxFailures
	if failures >= m.maxFailures {
		en.health.IsHealthy = false
	}
	en.mu.Unlock()

	if becameUnhealthy {
		m.metrics.SetProxyHealth(e.Key(), false)
		logger.LogProxyEvent(m.logger, e.Key(), "marked_unhealthy", failures)
	}
}

// Health returns the snapshot for key
func (m *Manager) Health(key string) (Health, bool) {
	en, ok := m.index[key]
	if !ok {
		return Health{}, false
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.health, true
}

// Snapshot returns every endpoint's health in list order
func (m *Manager) Snapshot() []Health {
	out := make([]Health, 0, len(m.entries))
	for _, en := range m.entries {
		en.mu.Lock()
		out = append(out, en.health)
		en.mu.Unlock()
	}
	return out
}

// Endpoints returns the configured endpoints in list order
func (m *Manager) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(m.entries))
	for _, en := range m.entries {
		out = append(out, en.endpoint)
	}
	return out
}

// ResetStale gives unhealthy endpoints unused for staleAfter a fresh start
// and returns how many were reset.
func (m *Manager) ResetStale() int {
	now := m.now()
	reset := 0
	for _, en := range m.entries {
		en.mu.Lock()
		stale := !en.health.IsHealthy && now.Sub(lastActivity(en.health)) >= m.staleAfter
		if stale {
			en.health.ConsecutiveFailures = 0
			en.health.IsHealthy = true
		}
		en.mu.Unlock()

		if stale {
			reset++
			m.metrics.SetProxyHealth(en.endpoint.Key(), true)
			logger.LogProxyEvent(m.logger, en.endpoint.Key(), "stale_reset", 0)
		}
	}
	return reset
}

func lastActivity(h Health) time.Time {
	last := h.LastUsedAt
	if h.LastFailureAt.After(last) {
		last = h.LastFailureAt
	}
	return last
}

func (en *entry) healthy() bool {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.health.IsHealthy
}

func (en *entry) use(at time.Time) Endpoint {
	en.mu.Lock()
	defer en.mu.Unlock()
	en.health.TotalUses++
	en.health.LastUsedAt = at
	return en.endpoint
}
