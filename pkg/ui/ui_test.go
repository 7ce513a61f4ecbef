package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"galleryscraper/pkg/models"
)

func TestRenderProgress(t *testing.T) {
	line := RenderProgress(models.PhaseExtracting, 5, 4, 10, 2*time.Minute)

	assert.Contains(t, line, "extracting")
	assert.Contains(t, line, "5/10")
	assert.Contains(t, line, "4 ok")
	assert.Contains(t, line, "2.5/min")
	assert.Contains(t, line, strings.Repeat("━", barWidth/2)+strings.Repeat("─", barWidth/2))
	assert.Contains(t, line, "02m00s")
}

func TestRenderProgressZeroTotal(t *testing.T) {
	line := RenderProgress("", 0, 0, 0, 0)
	assert.Contains(t, line, "working")
	assert.Contains(t, line, strings.Repeat("─", barWidth))
}

func TestRenderSummary(t *testing.T) {
	summary := RenderSummary([]models.ExtractionRecord{
		{ItemID: "1", Title: "Dusk"},
		{ItemID: "2", Photographer: "Jane Doe"},
		{ItemID: "3"},
	}, 75*time.Second)

	assert.Contains(t, summary, "records:    3")
	assert.Contains(t, summary, "with title: 1")
	assert.Contains(t, summary, "partial:    1")
	assert.Contains(t, summary, "01m15s")
}

func TestTerminalSinkPlain(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, true)
	term.OnPhase(models.PhaseRetrying)
	term.OnProgress(1, 1, 2)
	term.OnComplete([]models.ExtractionRecord{{ItemID: "1", Title: "t"}})
	term.OnError(errors.New("entry page unreachable"))

	out := buf.String()
	assert.Contains(t, out, "retrying")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "records:    1")
	assert.Contains(t, out, "✗ job failed: entry page unreachable")
	assert.NotContains(t, out, "\r")
}

func TestPrinterPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	p.Info("proxy", "http://a:8080")
	p.Success("healthy")
	p.Warning("degraded")
	p.Error("probe failed", errors.New("timeout"))

	assert.Equal(t, "proxy: http://a:8080\n✓ healthy\n! degraded\n✗ probe failed: timeout\n", buf.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00m05s", formatDuration(5*time.Second))
	assert.Equal(t, "1h02m03s", formatDuration(time.Hour+2*time.Minute+3*time.Second))
}
