package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/spf13/cobra"

	"galleryscraper/pkg/proxy"
	"galleryscraper/pkg/ui"
	"galleryscraper/pkg/vpn"
)

// proxyCmd represents the proxy command
var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Inspect the configured proxy pool",
}

// proxyCheckCmd resolves the public IP through every endpoint
var proxyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that each configured proxy is reachable",
	Long: `Resolve the public IP address directly and through every configured proxy.

Stored credentials are applied to endpoints whose URI carries none.`,
	Example: `  galleryscraper proxy check --proxy http://10.0.0.1:3128`,
	SilenceUsage: true,
	RunE:         runProxyCheck,
}

func init() {
	rootCmd.AddCommand(proxyCmd)
	proxyCmd.AddCommand(proxyCheckCmd)
	proxyCheckCmd.Flags().StringArrayVar(&proxyURIs, "proxy", nil, "proxy URI, repeatable")
}

type checkResult struct {
	endpoint proxy.Endpoint
	ip       string
	err      error
}

func runProxyCheck(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout(), noColor)
	flags := make(map[string]interface{})
	if len(proxyURIs) > 0 {
		flags["proxies"] = proxyURIs
	}
	cfg, log, err := loadConfig(flags)
	if err != nil {
		printer.Error("Failed to load configuration", err)
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	direct, err := vpn.LookupPublicIP(ctx, &http.Client{Timeout: proxyCheckTimeout}, cfg.VPN.IPLookupURL)
	if err != nil {
		printer.Warning(fmt.Sprintf("direct lookup failed: %v", err))
	} else {
		printer.Info("Direct", direct)
	}

	endpoints := proxyEndpoints(cfg, log)
	if len(endpoints) == 0 {
		printer.Warning("no proxies configured")
		return nil
	}

	results := make([]checkResult, len(endpoints))
	var wg sync.WaitGroup
	for i, e := range endpoints {
		wg.Add(1)
		go func(i int, e proxy.Endpoint) {
			defer wg.Done()
			ip, err := vpn.LookupPublicIP(ctx, e.HTTPClient(proxyCheckTimeout), cfg.VPN.IPLookupURL)
			results[i] = checkResult{endpoint: e, ip: ip, err: err}
		}(i, e)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			printer.Error(r.endpoint.Key(), r.err)
			continue
		}
		printer.Success(fmt.Sprintf("%s -> %s", r.endpoint.Key(), r.ip))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d proxies failed", failed, len(results))
	}
	return nil
}
