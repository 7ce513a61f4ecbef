package proxy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "galleryscraper/pkg/errors"
	"galleryscraper/pkg/logger"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		successes int
		failures  int
	}{
		{"ok", nil, 1, 0},
		{"not found is a delivered response", errs.FromStatus(404), 1, 0},
		{"server error is a delivered response", errs.FromStatus(502), 1, 0},
		{"rate limited", errs.FromStatus(429), 0, 1},
		{"forbidden", errs.FromStatus(403), 0, 1},
		{"transport", errs.FromTransport(errors.New("connection refused")), 0, 1},
		{"timeout", errs.FromTransport(context.DeadlineExceeded), 0, 1},
		{"fatal entry failure", errs.Wrap(errs.ErrorTypeFatal, fmt.Errorf("entry: %w", errs.FromTransport(errors.New("reset"))), "entry page unreachable"), 0, 1},
		{"cancelled", context.Canceled, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoints := mustEndpoints(t, "http://10.0.0.1:3128")
			m := NewManager(endpoints, logger.NewNopLogger())

			Report(m, endpoints[0], tt.err)

			h, ok := m.Health(endpoints[0].Key())
			require.True(t, ok)
			assert.Equal(t, tt.successes, h.Successes)
			assert.Equal(t, tt.failures, h.ConsecutiveFailures)
		})
	}
}

func TestReportNilRecorder(t *testing.T) {
	assert.NotPanics(t, func() {
		Report(nil, Endpoint{Host: "10.0.0.1", Port: 3128, Protocol: ProtocolHTTP}, nil)
	})
}
