// Package scheduler re-runs recorded failures through the extraction pool in
// rounds of decreasing aggressiveness until they recover or rounds run out.
package scheduler

import (
	"context"
	"strings"
	"time"

	"galleryscraper/internal/extractor"
	"galleryscraper/internal/failures"
	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/metrics"
	"galleryscraper/pkg/models"
	"galleryscraper/pkg/retry"
)

const (
	DefaultMaxRounds       = 3
	DefaultConcurrency     = 1
	DefaultRoundDelay      = 5 * time.Second
	DefaultRoundBatchDelay = 3 * time.Second
)

// DefaultMeaningfulFields are the fields of which at least one must be set
// for a retried record to count as recovered
var DefaultMeaningfulFields = []string{"title", "photographer", "caption"}

// Extractor runs a set of links through the worker pool
type Extractor interface {
	ExtractAll(ctx context.Context, links []models.DiscoveredLink, opts extractor.RunOptions) (*extractor.Result, error)
}

// Rotator changes network identity between rounds
type Rotator interface {
	Enabled() bool
	Rotate(ctx context.Context) bool
}

// Config controls the retry rounds
type Config struct {
	MaxRounds int
	// Concurrency is the pool size used for every round
	Concurrency int
	// RoundDelay is multiplied by the round number before rounds after the first
	RoundDelay time.Duration
	// BatchDelay is multiplied by the round number between batches
	BatchDelay       time.Duration
	MeaningfulFields []string
}

// DefaultConfig returns the standard round schedule
func DefaultConfig() Config {
	return Config{
		MaxRounds:        DefaultMaxRounds,
		Concurrency:      DefaultConcurrency,
		RoundDelay:       DefaultRoundDelay,
		BatchDelay:       DefaultRoundBatchDelay,
		MeaningfulFields: DefaultMeaningfulFields,
	}
}

// Result summarizes the retry rounds
type Result struct {
	// Rounds is the number of rounds that actually ran
	Rounds int
	// Records holds the latest record produced for each retried item
	Records   []models.ExtractionRecord
	Recovered int
	// Skipped is the number of terminal failures excluded from the last round
	Skipped int
}

// RoundHook is called when a round starts
type RoundHook func(round, pending int)

// Scheduler runs retry rounds
type Scheduler struct {
	cfg     Config
	pool    Extractor
	rotator Rotator
	sleep   retry.Sleeper
	metrics *metrics.Metrics
	onRound RoundHook
	log     logger.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithRotator rotates network identity before every round
func WithRotator(r Rotator) Option {
	return func(s *Scheduler) { s.rotator = r }
}

// WithSleeper replaces the inter-round wait
func WithSleeper(sl retry.Sleeper) Option {
	return func(s *Scheduler) {
		if sl != nil {
			s.sleep = sl
		}
	}
}

// WithMetrics records round counts and pending failures
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithRoundHook observes round starts
func WithRoundHook(h RoundHook) Option {
	return func(s *Scheduler) { s.onRound = h }
}

// New creates a Scheduler. Zero config values take their defaults, except
// MaxRounds which may be set negative to disable retries.
func New(cfg Config, pool Extractor, log logger.Logger, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.RoundDelay < 0 {
		cfg.RoundDelay = 0
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if len(cfg.MeaningfulFields) == 0 {
		cfg.MeaningfulFields = def.MeaningfulFields
	}

	s := &Scheduler{
		cfg:   cfg,
		pool:  pool,
		sleep: retry.Wait,
		log:   logger.OrDefault(log),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RoundDelay returns the wait before round (1-indexed); the first round
// starts immediately
func (s *Scheduler) RoundDelay(round int) time.Duration {
	if round <= 1 {
		return 0
	}
	return s.cfg.RoundDelay * time.Duration(round)
}

// BatchDelay returns the delay between batches inside round
func (s *Scheduler) BatchDelay(round int) time.Duration {
	return s.cfg.BatchDelay * time.Duration(round)
}

// Meaningful rejects records that carry none of the meaningful fields
func (s *Scheduler) Meaningful(rec *models.ExtractionRecord) error {
	if rec.HasContent(s.cfg.MeaningfulFields) {
		return nil
	}
	return failures.Structural("no meaningful content in " + strings.Join(s.cfg.MeaningfulFields, "/"))
}

// RetryFailures runs up to MaxRounds retry rounds over the retryable
// failures in table. links, when set, supplies the discovered link for each
// failed id. Remaining failures stay in table.
func (s *Scheduler) RetryFailures(ctx context.Context, table *failures.Table, links *models.LinkSet) (*Result, error) {
	res := &Result{}
	latest := make(map[string]models.ExtractionRecord)
	var order []string

	defer func() {
		for _, id := range order {
			res.Records = append(res.Records, latest[id])
		}
		s.metrics.SetPendingFailures(table.Len())
	}()

	for round := 1; round <= s.cfg.MaxRounds; round++ {
		pending, terminal := table.Retryable()
		res.Skipped = len(terminal)
		if len(pending) == 0 {
			s.log.DebugWithFields("no retryable failures left", map[string]interface{}{
				"round":   round,
				"skipped": len(terminal),
			})
			break
		}

		delay := s.RoundDelay(round)
		logger.LogRetryRound(s.log, round, len(pending), len(terminal), delay)
		if delay > 0 {
			if err := s.sleep(ctx, delay); err != nil {
				return res, err
			}
		}
		if s.rotator != nil && s.rotator.Enabled() {
			if !s.rotator.Rotate(ctx) {
				s.log.Warn("network identity rotation failed, retrying on current identity")
			}
		}
		if s.onRound != nil {
			s.onRound(round, len(pending))
		}

		before := len(pending)
		out, err := s.pool.ExtractAll(ctx, s.linksFor(pending, links), extractor.RunOptions{
			Concurrency: s.cfg.Concurrency,
			BatchDelay:  s.BatchDelay(round),
			Round:       round,
			Failures:    table,
			Accept:      s.Meaningful,
		})
		res.Rounds++
		s.metrics.IncRetryRound()
		if out != nil {
			for _, rec := range out.Records {
				if _, seen := latest[rec.ItemID]; !seen {
					order = append(order, rec.ItemID)
				}
				latest[rec.ItemID] = rec
			}
			res.Recovered += out.Succeeded
		}
		if err != nil {
			return res, err
		}

		remaining, _ := table.Retryable()
		s.log.InfoWithFields("retry round completed", map[string]interface{}{
			"round":     round,
			"retried":   before,
			"recovered": out.Succeeded,
			"remaining": len(remaining),
		})
	}

	return res, nil
}

func (s *Scheduler) linksFor(pending []models.FailureRecord, links *models.LinkSet) []models.DiscoveredLink {
	out := make([]models.DiscoveredLink, 0, len(pending))
	for _, fr := range pending {
		if links != nil {
			if link, ok := links.Get(fr.ItemID); ok {
				out = append(out, link)
				continue
			}
		}
		out = append(out, models.DiscoveredLink{ItemID: fr.ItemID, CanonicalURL: fr.URL})
	}
	return out
}
