package vpn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"galleryscraper/pkg/logger"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Run(ctx context.Context, command string) (string, error) {
	args := m.Called(ctx, command)
	return args.String(0), args.Error(1)
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ChangeCommand = "vpnctl connect {location}"
	cfg.VerifyCommand = "vpnctl status"
	return cfg
}

func TestDisabledIsNoop(t *testing.T) {
	exec := &mockExecutor{}
	v := New(DefaultConfig(), exec, logger.NewNopLogger())

	assert.False(t, v.Enabled())
	assert.NoError(t, v.ChangeVPN(context.Background(), "de"))
	assert.True(t, v.VerifyConnection(context.Background()))
	assert.True(t, v.WaitForConnection(context.Background()))
	assert.True(t, v.ChangeAndVerify(context.Background(), "de"))
	assert.True(t, v.Rotate(context.Background()))
	exec.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestChangeAndVerify(t *testing.T) {
	exec := &mockExecutor{}
	sleeper := &sleepRecorder{}
	exec.On("Run", mock.Anything, "vpnctl connect 'de-berlin'").Return("connecting", nil).Once()
	exec.On("Run", mock.Anything, "vpnctl status").Return("", nil).Twice()
	exec.On("Run", mock.Anything, "vpnctl status").Return("Connected to de-berlin", nil).Once()

	v := New(enabledConfig(), exec, logger.NewNopLogger(), WithSleeper(sleeper.sleep))

	assert.True(t, v.ChangeAndVerify(context.Background(), "de-berlin"))
	assert.Equal(t, []time.Duration{5 * time.Second, 2 * time.Second, 2 * time.Second}, sleeper.delays)
	exec.AssertExpectations(t)
}

func TestChangeCommandFailure(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Run", mock.Anything, mock.Anything).Return("", errors.New("exit status 1")).Once()

	v := New(enabledConfig(), exec, logger.NewNopLogger(), WithSleeper((&sleepRecorder{}).sleep))

	assert.Error(t, v.ChangeVPN(context.Background(), "fr"))
	exec.AssertNumberOfCalls(t, "Run", 1)
}

func TestWaitForConnectionGivesUp(t *testing.T) {
	exec := &mockExecutor{}
	sleeper := &sleepRecorder{}
	exec.On("Run", mock.Anything, "vpnctl status").Return("", nil)

	v := New(enabledConfig(), exec, logger.NewNopLogger(), WithSleeper(sleeper.sleep))

	assert.False(t, v.WaitForConnection(context.Background()))
	exec.AssertNumberOfCalls(t, "Run", 10)
	assert.Len(t, sleeper.delays, 9)
}

func TestVerifyViaIPLookup(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, "203.0.113.%d\n", n)
	}))
	defer srv.Close()

	cfg := enabledConfig()
	cfg.VerifyCommand = ""
	cfg.IPLookupURL = srv.URL
	v := New(cfg, &mockExecutor{}, logger.NewNopLogger(), WithHTTPClient(srv.Client()))

	assert.True(t, v.VerifyConnection(context.Background()))
	assert.Equal(t, "203.0.113.1", v.LastIP())
	assert.True(t, v.VerifyConnection(context.Background()))
	assert.Equal(t, "203.0.113.2", v.LastIP())
}

func TestLookupPublicIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.Write([]byte(`{"ip": "198.51.100.7"}`))
		case "/garbage":
			w.Write([]byte("<html>blocked</html>"))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	ip, err := LookupPublicIP(context.Background(), srv.Client(), srv.URL+"/json")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", ip)

	_, err = LookupPublicIP(context.Background(), srv.Client(), srv.URL+"/garbage")
	assert.Error(t, err)

	_, err = LookupPublicIP(context.Background(), srv.Client(), srv.URL+"/down")
	assert.Error(t, err)
}

func TestRotateCyclesLocations(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Run", mock.Anything, "vpnctl connect 'us'").Return("", nil).Twice()
	exec.On("Run", mock.Anything, "vpnctl connect 'ca'").Return("", nil).Once()
	exec.On("Run", mock.Anything, "vpnctl status").Return("up", nil)

	cfg := enabledConfig()
	cfg.Locations = []string{"us", "ca"}
	v := New(cfg, exec, logger.NewNopLogger(), WithSleeper((&sleepRecorder{}).sleep))

	assert.True(t, v.Rotate(context.Background()))
	assert.True(t, v.Rotate(context.Background()))
	assert.True(t, v.Rotate(context.Background()))
	exec.AssertExpectations(t)
}

func TestExpand(t *testing.T) {
	assert.Equal(t, "vpn connect 'us east'", expandFor("linux", "vpn connect {location}", "us east"))
	assert.Equal(t, "vpn connect", expandFor("linux", "vpn connect {location}", ""))
	assert.Equal(t, `vpn connect 'it'\''s'`, expandFor("darwin", "vpn connect {location}", "it's"))
	assert.Equal(t, "vpn reconnect", expandFor("linux", "vpn reconnect", "de"))

	assert.Equal(t, `vpn.exe connect "us east"`, expandFor("windows", "vpn.exe connect {location}", "us east"))
	assert.Equal(t, `vpn.exe connect "say hi"`, expandFor("windows", "vpn.exe connect {location}", `say "hi"`))
	assert.Equal(t, "vpn.exe connect", expandFor("windows", "vpn.exe connect {location}", ""))
}

func TestNilOptionsKeepDefaults(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Run", mock.Anything, "vpnctl connect 'nl'").Return("", nil).Once()
	cfg := enabledConfig()
	cfg.StabilizationDelay = time.Millisecond

	v := New(cfg, exec, logger.NewNopLogger(), WithSleeper(nil), WithHTTPClient(nil))
	require.NotNil(t, v.sleep)
	require.NotNil(t, v.client)
	assert.NotPanics(t, func() {
		assert.NoError(t, v.ChangeVPN(context.Background(), "nl"))
	})
	exec.AssertExpectations(t)
}
