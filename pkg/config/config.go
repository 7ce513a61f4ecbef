package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "GALLERYSCRAPER_"

// Config holds all configuration options for a scrape job
type Config struct {
	Browser    BrowserConfig    `yaml:"browser" json:"browser"`
	Discovery  DiscoveryConfig  `yaml:"discovery" json:"discovery"`
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Proxy      ProxyConfig      `yaml:"proxy" json:"proxy"`
	VPN        VPNConfig        `yaml:"vpn" json:"vpn"`
	Capture    CaptureConfig    `yaml:"capture" json:"capture"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	Job        JobConfig        `yaml:"job" json:"job"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// BrowserConfig holds browser session and anti-detection settings
type BrowserConfig struct {
	Headless          bool              `yaml:"headless" json:"headless"`
	BinaryPath        string            `yaml:"binary_path" json:"binary_path"`
	UserAgent         string            `yaml:"user_agent" json:"user_agent"`
	ViewportWidth     int               `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight    int               `yaml:"viewport_height" json:"viewport_height"`
	Headers           map[string]string `yaml:"headers" json:"headers"`
	NavigationTimeout time.Duration     `yaml:"navigation_timeout" json:"navigation_timeout"`
	WaitTimeout       time.Duration     `yaml:"wait_timeout" json:"wait_timeout"`
}

// DiscoveryConfig controls the scroll/pagination discovery engine
type DiscoveryConfig struct {
	ItemSelector   string        `yaml:"item_selector" json:"item_selector"`
	LinkPattern    string        `yaml:"link_pattern" json:"link_pattern"`
	MaxItems       int           `yaml:"max_items" json:"max_items"`
	MaxSteps       int           `yaml:"max_steps" json:"max_steps"`
	ClickDelay     time.Duration `yaml:"click_delay" json:"click_delay"`
	ScrollDelay    time.Duration `yaml:"scroll_delay" json:"scroll_delay"`
	PatienceRounds int           `yaml:"patience_rounds" json:"patience_rounds"`
	PatienceDelay  time.Duration `yaml:"patience_delay" json:"patience_delay"`
}

// ExtractionConfig controls the worker pool
type ExtractionConfig struct {
	Concurrency       int           `yaml:"concurrency" json:"concurrency"`
	BatchDelay        time.Duration `yaml:"batch_delay" json:"batch_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	ReadySelector     string        `yaml:"ready_selector" json:"ready_selector"`
}

// RetryConfig controls in-navigation retries and failure retry rounds
type RetryConfig struct {
	NavigationAttempts int           `yaml:"navigation_attempts" json:"navigation_attempts"`
	MaxRounds          int           `yaml:"max_rounds" json:"max_rounds"`
	RoundConcurrency   int           `yaml:"round_concurrency" json:"round_concurrency"`
	RoundDelay         time.Duration `yaml:"round_delay" json:"round_delay"`
	RoundBatchDelay    time.Duration `yaml:"round_batch_delay" json:"round_batch_delay"`
	MeaningfulFields   []string      `yaml:"meaningful_fields" json:"meaningful_fields"`
}

// ProxyConfig holds the proxy pool settings
type ProxyConfig struct {
	URIs           []string      `yaml:"uris" json:"uris"`
	MaxFailures    int           `yaml:"max_failures" json:"max_failures"`
	HealthInterval time.Duration `yaml:"health_interval" json:"health_interval"`
	StaleAfter     time.Duration `yaml:"stale_after" json:"stale_after"`
}

// VPNConfig holds the network identity controller settings
type VPNConfig struct {
	Enabled            bool          `yaml:"enabled" json:"enabled"`
	ChangeCommand      string        `yaml:"change_command" json:"change_command"`
	VerifyCommand      string        `yaml:"verify_command" json:"verify_command"`
	Locations          []string      `yaml:"locations" json:"locations"`
	StabilizationDelay time.Duration `yaml:"stabilization_delay" json:"stabilization_delay"`
	VerifyAttempts     int           `yaml:"verify_attempts" json:"verify_attempts"`
	VerifyDelay        time.Duration `yaml:"verify_delay" json:"verify_delay"`
	IPLookupURL        string        `yaml:"ip_lookup_url" json:"ip_lookup_url"`
	RotateEveryBatches int           `yaml:"rotate_every_batches" json:"rotate_every_batches"`
}

// CaptureConfig controls network response capture
type CaptureConfig struct {
	EndpointPattern string `yaml:"endpoint_pattern" json:"endpoint_pattern"`
}

// OutputConfig holds output file settings
type OutputConfig struct {
	Directory      string `yaml:"directory" json:"directory"`
	RecordsFile    string `yaml:"records_file" json:"records_file"`
	FailureLogFile string `yaml:"failure_log_file" json:"failure_log_file"`
}

// JobConfig holds job-wide limits
type JobConfig struct {
	// MaxDuration bounds a whole run; zero means unbounded
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	File    string `yaml:"file" json:"file"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:       true,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			ViewportWidth:  1366,
			ViewportHeight: 900,
			Headers: map[string]string{
				"Accept-Language": "en-US,en;q=0.9",
			},
			NavigationTimeout: 30 * time.Second,
			WaitTimeout:       15 * time.Second,
		},
		Discovery: DiscoveryConfig{
			ItemSelector:   "a[href]",
			LinkPattern:    `/(?:image|photo|item)s?/(?P<id>[A-Za-z0-9_-]+)`,
			MaxItems:       0,
			MaxSteps:       500,
			ClickDelay:     2 * time.Second,
			ScrollDelay:    1500 * time.Millisecond,
			PatienceRounds: 5,
			PatienceDelay:  2 * time.Second,
		},
		Extraction: ExtractionConfig{
			Concurrency:       5,
			BatchDelay:        500 * time.Millisecond,
			RequestsPerMinute: 0,
		},
		Retry: RetryConfig{
			NavigationAttempts: 3,
			MaxRounds:          3,
			RoundConcurrency:   1,
			RoundDelay:         5 * time.Second,
			RoundBatchDelay:    3 * time.Second,
			MeaningfulFields:   []string{"title", "photographer", "caption"},
		},
		Proxy: ProxyConfig{
			MaxFailures:    3,
			HealthInterval: 60 * time.Second,
			StaleAfter:     5 * time.Minute,
		},
		VPN: VPNConfig{
			StabilizationDelay: 5 * time.Second,
			VerifyAttempts:     10,
			VerifyDelay:        2 * time.Second,
			IPLookupURL:        "https://api.ipify.org",
		},
		Output: OutputConfig{
			Directory:      "./output",
			RecordsFile:    "records.json",
			FailureLogFile: "failures.log",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Listen: ":9108",
		},
	}
}

// LoadFromEnv overrides values from GALLERYSCRAPER_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setInt := func(name string, target *int) {
		if raw := os.Getenv(envPrefix + name); raw != "" {
			val, err := strconv.Atoi(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*target = val
		}
	}
	setDuration := func(name string, target *time.Duration) {
		if raw := os.Getenv(envPrefix + name); raw != "" {
			val, err := time.ParseDuration(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*target = val
		}
	}
	setString := func(name string, target *string) {
		if raw := os.Getenv(envPrefix + name); raw != "" {
			*target = raw
		}
	}

	setString("USER_AGENT", &c.Browser.UserAgent)
	setDuration("NAVIGATION_TIMEOUT", &c.Browser.NavigationTimeout)
	setInt("MAX_ITEMS", &c.Discovery.MaxItems)
	setInt("CONCURRENCY", &c.Extraction.Concurrency)
	setInt("REQUESTS_PER_MINUTE", &c.Extraction.RequestsPerMinute)
	setInt("MAX_ROUNDS", &c.Retry.MaxRounds)
	setString("OUTPUT_DIR", &c.Output.Directory)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("VPN_CHANGE_COMMAND", &c.VPN.ChangeCommand)
	setString("VPN_VERIFY_COMMAND", &c.VPN.VerifyCommand)
	setDuration("JOB_MAX_DURATION", &c.Job.MaxDuration)

	if raw := os.Getenv(envPrefix + "PROXIES"); raw != "" {
		c.Proxy.URIs = splitList(raw)
	}
	if raw := os.Getenv(envPrefix + "VPN_ENABLED"); raw != "" {
		c.VPN.Enabled = strings.EqualFold(raw, "true")
	}

	return errors.Join(errs...)
}

// splitList splits a comma or whitespace separated list
func splitList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for a config file in standard locations
func findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".galleryscraper.yaml",
		".galleryscraper.yml",
		filepath.Join(home, ".config", "galleryscraper", "config.yaml"),
		filepath.Join(home, ".galleryscraper.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("navigation timeout must be positive"))
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		errs = append(errs, errors.New("viewport dimensions must be positive"))
	}
	if c.Discovery.ItemSelector == "" {
		errs = append(errs, errors.New("item selector is required"))
	}
	if c.Discovery.MaxItems < 0 {
		errs = append(errs, errors.New("max items cannot be negative"))
	}
	if c.Discovery.PatienceRounds < 0 {
		errs = append(errs, errors.New("patience rounds cannot be negative"))
	}
	if c.Extraction.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Extraction.Concurrency > 16 {
		errs = append(errs, errors.New("concurrency should not exceed 16 browser sessions"))
	}
	if c.Retry.NavigationAttempts <= 0 {
		errs = append(errs, errors.New("navigation attempts must be positive"))
	}
	if c.Retry.MaxRounds < 0 {
		errs = append(errs, errors.New("max retry rounds cannot be negative"))
	}
	if c.Retry.RoundConcurrency <= 0 {
		errs = append(errs, errors.New("retry round concurrency must be positive"))
	}
	if c.Proxy.MaxFailures <= 0 {
		errs = append(errs, errors.New("proxy max failures must be positive"))
	}
	if c.VPN.Enabled && c.VPN.ChangeCommand == "" && c.VPN.VerifyCommand == "" {
		errs = append(errs, errors.New("vpn enabled but neither change nor verify command is set"))
	}
	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save writes the configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.Directory = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Extraction.Concurrency = v
	}
	if v, ok := flags["max-items"].(int); ok && v >= 0 {
		c.Discovery.MaxItems = v
	}
	if v, ok := flags["max-rounds"].(int); ok && v >= 0 {
		c.Retry.MaxRounds = v
	}
	if v, ok := flags["item-selector"].(string); ok && v != "" {
		c.Discovery.ItemSelector = v
	}
	if v, ok := flags["link-pattern"].(string); ok && v != "" {
		c.Discovery.LinkPattern = v
	}
	if v, ok := flags["proxies"].([]string); ok && len(v) > 0 {
		c.Proxy.URIs = v
	}
	if v, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["max-duration"].(time.Duration); ok && v > 0 {
		c.Job.MaxDuration = v
	}
}

// Load loads configuration from all sources.
// Precedence: flags > environment > .env file > config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".galleryscraper.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
