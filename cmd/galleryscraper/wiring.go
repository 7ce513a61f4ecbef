package main

import (
	"context"
	"time"

	"galleryscraper/pkg/config"
	"galleryscraper/pkg/credentials"
	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/metrics"
	"galleryscraper/pkg/proxy"
	"galleryscraper/pkg/vpn"
)

const proxyCheckTimeout = 15 * time.Second

// loadConfig loads configuration and initializes the global logger
func loadConfig(flags map[string]interface{}) (*config.Config, logger.Logger, error) {
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, nil, err
	}
	if noColor {
		cfg.Logging.NoColor = true
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, nil, err
	}
	return cfg, logger.GetLogger(), nil
}

// proxyEndpoints parses configured URIs and fills missing credentials from
// the credential stores
func proxyEndpoints(cfg *config.Config, log logger.Logger) []proxy.Endpoint {
	endpoints := proxy.ParseList(cfg.Proxy.URIs, log)
	if len(endpoints) == 0 {
		return nil
	}
	creds, err := credentials.NewManager(log)
	if err != nil {
		log.WithError(err).Warn("credential stores unavailable, using proxy URIs as given")
		return endpoints
	}
	return creds.Apply(endpoints)
}

func newProxyManager(cfg *config.Config, endpoints []proxy.Endpoint, mx *metrics.Metrics, log logger.Logger) *proxy.Manager {
	return proxy.NewManager(endpoints, log,
		proxy.WithMaxFailures(cfg.Proxy.MaxFailures),
		proxy.WithStaleAfter(cfg.Proxy.StaleAfter),
		proxy.WithMetrics(mx),
	)
}

// ipChecker probes an endpoint by resolving the public IP through it
func ipChecker(lookupURL string) proxy.Checker {
	return func(ctx context.Context, e proxy.Endpoint) error {
		_, err := vpn.LookupPublicIP(ctx, e.HTTPClient(proxyCheckTimeout), lookupURL)
		return err
	}
}

func newVPNController(cfg *config.Config, mx *metrics.Metrics, log logger.Logger) *vpn.Controller {
	return vpn.New(vpn.Config{
		Enabled:            cfg.VPN.Enabled,
		ChangeCommand:      cfg.VPN.ChangeCommand,
		VerifyCommand:      cfg.VPN.VerifyCommand,
		Locations:          cfg.VPN.Locations,
		StabilizationDelay: cfg.VPN.StabilizationDelay,
		VerifyAttempts:     cfg.VPN.VerifyAttempts,
		VerifyDelay:        cfg.VPN.VerifyDelay,
		IPLookupURL:        cfg.VPN.IPLookupURL,
	}, vpn.ShellExecutor{}, log, vpn.WithMetrics(mx))
}
