package storage

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"galleryscraper/pkg/models"
)

// WriteFailureLog appends one report section for jobID to the named log.
// Nothing is written when failures is empty; written reports whether a
// section was added.
func (m *Manager) WriteFailureLog(name, jobID string, failures []models.FailureRecord, at time.Time) (path string, written bool, err error) {
	if len(failures) == 0 {
		return "", false, nil
	}
	path = m.Path(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", false, fmt.Errorf("failed to open failure log: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(FormatFailureReport(jobID, failures, at)); err != nil {
		return "", false, fmt.Errorf("failed to write failure log: %w", err)
	}
	if err := file.Sync(); err != nil {
		return "", false, fmt.Errorf("failed to sync failure log: %w", err)
	}

	m.log.WarnWithFields("failure log written", map[string]interface{}{
		"path":     path,
		"job_id":   jobID,
		"failures": len(failures),
	})
	return path, true, nil
}

// FormatFailureReport renders the report section for one job, items sorted by id
func FormatFailureReport(jobID string, failures []models.FailureRecord, at time.Time) string {
	sorted := make([]models.FailureRecord, len(failures))
	copy(sorted, failures)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemID < sorted[j].ItemID })

	var b strings.Builder
	fmt.Fprintf(&b, "=== job %s ===\n", jobID)
	fmt.Fprintf(&b, "generated: %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "failures: %d\n\n", len(sorted))

	for _, f := range sorted {
		status := "-"
		if f.HTTPStatus > 0 {
			status = fmt.Sprintf("%d", f.HTTPStatus)
		}
		fmt.Fprintf(&b, "id: %s\n", f.ItemID)
		fmt.Fprintf(&b, "  url: %s\n", f.URL)
		fmt.Fprintf(&b, "  reason: %s\n", f.Reason)
		fmt.Fprintf(&b, "  attempts: %d\n", f.Attempts)
		fmt.Fprintf(&b, "  httpStatus: %s\n", status)
		fmt.Fprintf(&b, "  timestamp: %s\n", f.Timestamp.UTC().Format(time.RFC3339))
		if f.RetryRound > 0 {
			fmt.Fprintf(&b, "  retryRound: %d\n", f.RetryRound)
		}
	}
	b.WriteString("\n")
	return b.String()
}
