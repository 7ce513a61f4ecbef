package orchestrator

import (
	"time"

	"galleryscraper/internal/discovery"
	"galleryscraper/internal/scheduler"
	"galleryscraper/pkg/browser"
	"galleryscraper/pkg/config"
)

// Settings is the per-job configuration of an Orchestrator
type Settings struct {
	Profile       browser.Profile
	ItemSelector  string
	LinkPattern   string
	ReadySelector string
	WaitTimeout   time.Duration

	Discovery discovery.Config
	Retry     scheduler.Config

	Concurrency        int
	BatchDelay         time.Duration
	NavigationAttempts int
	NavigationTimeout  time.Duration
	RequestsPerMinute  int

	// RotateEveryBatches rotates network identity after every N initial-pass
	// batches; zero disables
	RotateEveryBatches int
	// ProxyHealthInterval schedules the proxy health loop; zero disables
	ProxyHealthInterval time.Duration

	RecordsFile    string
	FailureLogFile string

	// MaxDuration bounds the whole job; zero means unbounded
	MaxDuration time.Duration
}

// SettingsFrom maps loaded configuration onto job settings
func SettingsFrom(cfg *config.Config) Settings {
	rounds := cfg.Retry.MaxRounds
	if rounds == 0 {
		rounds = -1
	}
	return Settings{
		Profile: browser.Profile{
			Headless:       cfg.Browser.Headless,
			BinaryPath:     cfg.Browser.BinaryPath,
			UserAgent:      cfg.Browser.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			Headers:        cfg.Browser.Headers,
		},
		ItemSelector:  cfg.Discovery.ItemSelector,
		LinkPattern:   cfg.Discovery.LinkPattern,
		ReadySelector: cfg.Extraction.ReadySelector,
		WaitTimeout:   cfg.Browser.WaitTimeout,
		Discovery: discovery.Config{
			MaxItems:       cfg.Discovery.MaxItems,
			MaxSteps:       cfg.Discovery.MaxSteps,
			ClickDelay:     cfg.Discovery.ClickDelay,
			ScrollDelay:    cfg.Discovery.ScrollDelay,
			PatienceRounds: cfg.Discovery.PatienceRounds,
			PatienceDelay:  cfg.Discovery.PatienceDelay,
		},
		Retry: scheduler.Config{
			MaxRounds:        rounds,
			Concurrency:      cfg.Retry.RoundConcurrency,
			RoundDelay:       cfg.Retry.RoundDelay,
			BatchDelay:       cfg.Retry.RoundBatchDelay,
			MeaningfulFields: cfg.Retry.MeaningfulFields,
		},
		Concurrency:         cfg.Extraction.Concurrency,
		BatchDelay:          cfg.Extraction.BatchDelay,
		NavigationAttempts:  cfg.Retry.NavigationAttempts,
		NavigationTimeout:   cfg.Browser.NavigationTimeout,
		RequestsPerMinute:   cfg.Extraction.RequestsPerMinute,
		RotateEveryBatches:  cfg.VPN.RotateEveryBatches,
		ProxyHealthInterval: cfg.Proxy.HealthInterval,
		RecordsFile:         cfg.Output.RecordsFile,
		FailureLogFile:      cfg.Output.FailureLogFile,
		MaxDuration:         cfg.Job.MaxDuration,
	}
}
