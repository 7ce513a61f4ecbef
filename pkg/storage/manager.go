package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/models"
)

// Manager owns the job output directory: records export, failure log and
// discovery checkpoints
type Manager struct {
	outputDir string
	log       logger.Logger
	mu        sync.Mutex
}

// NewManager creates the output directory if needed
func NewManager(outputDir string, log logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{outputDir: outputDir, log: logger.OrDefault(log)}, nil
}

// OutputDir returns the output directory path
func (m *Manager) OutputDir() string {
	return m.outputDir
}

// Path joins name onto the output directory
func (m *Manager) Path(name string) string {
	return filepath.Join(m.outputDir, name)
}

// SaveRecords writes records as an indented JSON array, atomically
func (m *Manager) SaveRecords(name string, records []models.ExtractionRecord) (string, error) {
	if records == nil {
		records = []models.ExtractionRecord{}
	}
	path := m.Path(name)
	if err := m.writeJSON(path, records); err != nil {
		return "", fmt.Errorf("failed to save records: %w", err)
	}
	m.log.InfoWithFields("records saved", map[string]interface{}{
		"path":  path,
		"count": len(records),
	})
	return path, nil
}

// LoadRecords reads a records file written by SaveRecords
func (m *Manager) LoadRecords(name string) ([]models.ExtractionRecord, error) {
	var records []models.ExtractionRecord
	if err := readJSON(m.Path(name), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// writeJSON encodes v to a temp file, syncs it, then renames it over path
func (m *Manager) writeJSON(path string, v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return atomicWrite(path, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	})
}

func atomicWrite(path string, write func(io.Writer) error) error {
	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	if err := write(file); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
