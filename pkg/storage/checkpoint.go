package storage

import (
	"fmt"
	"os"
	"time"

	"galleryscraper/pkg/models"
)

const (
	checkpointFile    = "discovery.checkpoint.json"
	checkpointVersion = 1
)

// Checkpoint persists the links found by discovery so a later run can skip it
type Checkpoint struct {
	JobID     string                  `json:"job_id"`
	EntryURL  string                  `json:"entry_url"`
	Links     []models.DiscoveredLink `json:"links"`
	Complete  bool                    `json:"complete"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	Version   int                     `json:"version"`
}

// SaveCheckpoint writes cp atomically
func (m *Manager) SaveCheckpoint(cp *Checkpoint) error {
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = checkpointVersion

	if err := m.writeJSON(m.Path(checkpointFile), cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	m.log.DebugWithFields("checkpoint saved", map[string]interface{}{
		"entry_url": cp.EntryURL,
		"links":     len(cp.Links),
		"complete":  cp.Complete,
	})
	return nil
}

// LoadCheckpoint returns the checkpoint for entryURL, or nil when there is
// none or it belongs to another collection
func (m *Manager) LoadCheckpoint(entryURL string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := readJSON(m.Path(checkpointFile), &cp); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp.EntryURL != entryURL {
		m.log.InfoWithFields("ignoring checkpoint for another collection", map[string]interface{}{
			"checkpoint_url": cp.EntryURL,
			"entry_url":      entryURL,
		})
		return nil, nil
	}

	m.log.InfoWithFields("checkpoint loaded", map[string]interface{}{
		"job_id":     cp.JobID,
		"links":      len(cp.Links),
		"updated_at": cp.UpdatedAt,
	})
	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint file
func (m *Manager) DeleteCheckpoint() error {
	if err := os.Remove(m.Path(checkpointFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
