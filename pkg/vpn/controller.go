package vpn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/metrics"
	"galleryscraper/pkg/retry"
)

// Config controls the VPN controller
type Config struct {
	Enabled            bool
	ChangeCommand      string
	VerifyCommand      string
	Locations          []string
	StabilizationDelay time.Duration
	VerifyAttempts     int
	VerifyDelay        time.Duration
	IPLookupURL        string
}

// DefaultConfig returns a disabled controller configuration
func DefaultConfig() Config {
	return Config{
		StabilizationDelay: 5 * time.Second,
		VerifyAttempts:     10,
		VerifyDelay:        2 * time.Second,
		IPLookupURL:        "https://api.ipify.org",
	}
}

// Controller changes and verifies the network identity of the process.
// When disabled every operation succeeds without side effects.
type Controller struct {
	cfg     Config
	exec    CommandExecutor
	client  *http.Client
	sleep   retry.Sleeper
	logger  logger.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	location int
	lastIP   string
}

// Option configures a Controller
type Option func(*Controller)

// WithHTTPClient sets the client used for public IP lookups
func WithHTTPClient(c *http.Client) Option {
	return func(v *Controller) {
		if c != nil {
			v.client = c
		}
	}
}

// WithSleeper replaces the delay function
func WithSleeper(s retry.Sleeper) Option {
	return func(v *Controller) {
		if s != nil {
			v.sleep = s
		}
	}
}

// WithMetrics records change attempts
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Controller) { v.metrics = m }
}

// New creates a controller; exec defaults to ShellExecutor
func New(cfg Config, exec CommandExecutor, log logger.Logger, opts ...Option) *Controller {
	if exec == nil {
		exec = ShellExecutor{}
	}
	if cfg.VerifyAttempts <= 0 {
		cfg.VerifyAttempts = 10
	}
	if cfg.VerifyDelay <= 0 {
		cfg.VerifyDelay = 2 * time.Second
	}

	v := &Controller{
		cfg:    cfg,
		exec:   exec,
		client: &http.Client{Timeout: 10 * time.Second},
		sleep:  retry.Wait,
		logger: logger.OrDefault(log),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Enabled reports whether VPN management is active
func (v *Controller) Enabled() bool {
	return v != nil && v.cfg.Enabled
}

// ChangeVPN runs the change command for location and waits for the
// connection to stabilize. It fails only when the command cannot run.
func (v *Controller) ChangeVPN(ctx context.Context, location string) error {
	if !v.Enabled() || v.cfg.ChangeCommand == "" {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	command := expand(v.cfg.ChangeCommand, location)
	v.logger.InfoWithFields("changing vpn location", map[string]interface{}{
		"location": location,
	})

	output, err := v.exec.Run(ctx, command)
	if err != nil {
		v.metrics.IncVPNChange("error")
		v.logger.ErrorWithFields("vpn change command failed", map[string]interface{}{
			"location": location,
			"error":    err.Error(),
			"output":   output,
		})
		return fmt.Errorf("change vpn: %w", err)
	}
	v.metrics.IncVPNChange("ok")

	if err := v.sleep(ctx, v.cfg.StabilizationDelay); err != nil {
		return err
	}
	return nil
}

// VerifyConnection reports whether the tunnel is up: non-empty output from
// the verify command, or a successful public IP lookup when no command is set.
func (v *Controller) VerifyConnection(ctx context.Context) bool {
	if !v.Enabled() {
		return true
	}

	if v.cfg.VerifyCommand != "" {
		output, err := v.exec.Run(ctx, v.cfg.VerifyCommand)
		if err != nil {
			v.logger.DebugWithFields("vpn verify command failed", map[string]interface{}{
				"error": err.Error(),
			})
			return false
		}
		return strings.TrimSpace(output) != ""
	}

	if v.cfg.IPLookupURL == "" {
		return true
	}
	ip, err := LookupPublicIP(ctx, v.client, v.cfg.IPLookupURL)
	if err != nil {
		v.logger.DebugWithFields("public ip lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}

	v.mu.Lock()
	previous := v.lastIP
	v.lastIP = ip
	v.mu.Unlock()
	if previous != "" && previous != ip {
		v.logger.InfoWithFields("public ip changed", map[string]interface{}{
			"previous": previous,
			"current":  ip,
		})
	}
	return true
}

// WaitForConnection retries VerifyConnection up to VerifyAttempts times
func (v *Controller) WaitForConnection(ctx context.Context) bool {
	if !v.Enabled() {
		return true
	}

	for attempt := 1; attempt <= v.cfg.VerifyAttempts; attempt++ {
		if v.VerifyConnection(ctx) {
			return true
		}
		if attempt == v.cfg.VerifyAttempts {
			break
		}
		if err := v.sleep(ctx, v.cfg.VerifyDelay); err != nil {
			return false
		}
	}

	v.logger.WarnWithFields("vpn connection not verified", map[string]interface{}{
		"attempts": v.cfg.VerifyAttempts,
	})
	return false
}

// ChangeAndVerify switches to locationHint and waits for the tunnel
func (v *Controller) ChangeAndVerify(ctx context.Context, locationHint string) bool {
	if !v.Enabled() {
		return true
	}
	if err := v.ChangeVPN(ctx, locationHint); err != nil {
		return false
	}
	return v.WaitForConnection(ctx)
}

// Rotate moves to the next configured location
func (v *Controller) Rotate(ctx context.Context) bool {
	if !v.Enabled() {
		return true
	}
	return v.ChangeAndVerify(ctx, v.nextLocation())
}

// LastIP returns the most recently observed public IP
func (v *Controller) LastIP() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastIP
}

func (v *Controller) nextLocation() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.cfg.Locations) == 0 {
		return ""
	}
	loc := v.cfg.Locations[v.location%len(v.cfg.Locations)]
	v.location++
	return loc
}

// LookupPublicIP fetches the caller's public address from a plain-text or
// JSON ({"ip": ...}) lookup service.
func LookupPublicIP(ctx context.Context, client *http.Client, lookupURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("build ip lookup request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ip lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip lookup returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read ip lookup: %w", err)
	}

	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "{") {
		text = jsonIP(text)
	}
	if net.ParseIP(text) == nil {
		return "", fmt.Errorf("ip lookup returned %q", text)
	}
	return text, nil
}

func jsonIP(body string) string {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	for _, key := range []string{"ip", "query", "origin"} {
		if ip, ok := payload[key].(string); ok {
			return strings.TrimSpace(ip)
		}
	}
	return ""
}
