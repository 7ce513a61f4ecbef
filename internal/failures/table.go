// Package failures keeps the live FailureRecord of every item that has not
// yet been extracted successfully.
package failures

import (
	"sort"
	"sync"
	"time"

	errs "galleryscraper/pkg/errors"
	"galleryscraper/pkg/models"
)

// Table holds at most one FailureRecord per item id
type Table struct {
	mu      sync.Mutex
	records map[string]models.FailureRecord
	now     func() time.Time
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{
		records: make(map[string]models.FailureRecord),
		now:     time.Now,
	}
}

// Record stores a failure for link, replacing any previous one. Attempts
// continue from the replaced record.
func (t *Table) Record(link models.DiscoveredLink, err error, round int) models.FailureRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	attempts := 1
	if prev, ok := t.records[link.ItemID]; ok {
		attempts = prev.Attempts + 1
	}
	rec := models.FailureRecord{
		ItemID:     link.ItemID,
		URL:        link.CanonicalURL,
		Reason:     Reason(err),
		Attempts:   attempts,
		Timestamp:  t.now().UTC(),
		HTTPStatus: errs.StatusOf(err),
		RetryRound: round,
	}
	t.records[link.ItemID] = rec
	return rec
}

// Resolve removes the failure for itemID; it reports whether one existed
func (t *Table) Resolve(itemID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[itemID]
	delete(t.records, itemID)
	return ok
}

// Get returns the failure for itemID
func (t *Table) Get(itemID string) (models.FailureRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[itemID]
	return rec, ok
}

// Len returns the number of live failures
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Snapshot returns every live failure sorted by item id
func (t *Table) Snapshot() []models.FailureRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.FailureRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// Retryable splits live failures into those worth another round and those
// with a terminal status
func (t *Table) Retryable() (retry, terminal []models.FailureRecord) {
	for _, rec := range t.Snapshot() {
		if errs.TerminalStatus(rec.HTTPStatus) {
			terminal = append(terminal, rec)
			continue
		}
		retry = append(retry, rec)
	}
	return retry, terminal
}
