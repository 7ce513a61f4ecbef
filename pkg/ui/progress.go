package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"galleryscraper/pkg/models"
)

const barWidth = 24

// Terminal is a job-state sink that renders progress on one updating line
// and a summary box on completion
type Terminal struct {
	mu    sync.Mutex
	out   io.Writer
	start time.Time
	now   func() time.Time
	phase models.JobPhase
	live  bool
	palette
}

// NewTerminal renders to out, or stdout when out is nil
func NewTerminal(out io.Writer, noColor bool) *Terminal {
	if out == nil {
		out = os.Stdout
	}
	return &Terminal{
		out:     out,
		start:   time.Now(),
		now:     time.Now,
		live:    true,
		palette: palette{noColor: noColor},
	}
}

// OnPhase records the current phase for the progress line
func (t *Terminal) OnPhase(phase models.JobPhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
}

// OnProgress redraws the progress line
func (t *Terminal) OnProgress(attempted, succeeded, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := RenderProgress(t.phase, attempted, succeeded, total, t.now().Sub(t.start))
	if t.noColor {
		fmt.Fprintln(t.out, line)
		return
	}
	fmt.Fprintf(t.out, "\r%s", t.render(barStyle, line))
}

// OnComplete prints the summary of extracted records
func (t *Terminal) OnComplete(records []models.ExtractionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.noColor {
		fmt.Fprintln(t.out)
	}
	fmt.Fprintln(t.out, t.box(summaryStyle, RenderSummary(records, t.now().Sub(t.start))))
}

// OnError prints the job-fatal error
func (t *Terminal) OnError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.noColor {
		fmt.Fprintln(t.out)
	}
	fmt.Fprintln(t.out, t.render(errorStyle, "✗ job failed: "+err.Error()))
}

// RenderProgress formats one progress line
func RenderProgress(phase models.JobPhase, attempted, succeeded, total int, elapsed time.Duration) string {
	ratio := 0.0
	if total > 0 {
		ratio = float64(attempted) / float64(total)
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * barWidth)
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	rate := 0.0
	if minutes := elapsed.Minutes(); minutes > 0 {
		rate = float64(attempted) / minutes
	}

	label := string(phase)
	if label == "" {
		label = "working"
	}
	return fmt.Sprintf("%-11s [%s] %d/%d • %d ok • %.1f/min • %s",
		label, bar, attempted, total, succeeded, rate, formatDuration(elapsed))
}

// RenderSummary formats the completion summary
func RenderSummary(records []models.ExtractionRecord, elapsed time.Duration) string {
	withTitle := 0
	partial := 0
	for i := range records {
		if records[i].Title != "" {
			withTitle++
		}
		if records[i].IsPartial() {
			partial++
		}
	}

	lines := []string{
		fmt.Sprintf("records:    %d", len(records)),
		fmt.Sprintf("with title: %d", withTitle),
		fmt.Sprintf("partial:    %d", partial),
		fmt.Sprintf("elapsed:    %s", formatDuration(elapsed)),
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%02dm%02ds", m, s)
}
