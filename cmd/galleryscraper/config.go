package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"galleryscraper/pkg/config"
	"galleryscraper/pkg/proxy"
	"galleryscraper/pkg/ui"
)

const defaultConfigPath = ".galleryscraper.yaml"

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage galleryscraper configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (GALLERYSCRAPER_*, .env files)
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:          "init",
	Short:        "Write a configuration file with default values",
	SilenceUsage: true,
	RunE:         runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging every source.

Proxy credentials are masked.`,
	SilenceUsage: true,
	RunE:         runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:          "validate",
	Short:        "Validate the configuration",
	SilenceUsage: true,
	RunE:         runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout(), noColor)
	path := configFile
	if path == "" {
		path = defaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		err := fmt.Errorf("%s already exists", path)
		printer.Error("Configuration file already exists", err)
		return err
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		printer.Error("Failed to create configuration file", err)
		return err
	}
	printer.Success("Configuration file created: " + path)
	printer.Info("Next", "set discovery.item_selector and discovery.link_pattern for your gallery")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout(), noColor)
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		printer.Error("Failed to load configuration", err)
		return err
	}

	display := maskedConfig(cfg)
	data, err := yaml.Marshal(&display)
	if err != nil {
		printer.Error("Failed to format configuration", err)
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

// maskedConfig returns a copy of cfg with proxy credentials removed
func maskedConfig(cfg *config.Config) config.Config {
	display := *cfg
	display.Proxy.URIs = make([]string, 0, len(cfg.Proxy.URIs))
	for _, raw := range cfg.Proxy.URIs {
		e, err := proxy.ParseURI(raw)
		if err != nil {
			display.Proxy.URIs = append(display.Proxy.URIs, "<invalid>")
			continue
		}
		masked := e.Key()
		if e.HasCredentials() {
			masked += " (credentials set)"
		}
		display.Proxy.URIs = append(display.Proxy.URIs, masked)
	}
	return display
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout(), noColor)
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		printer.Error("Configuration validation failed", err)
		return err
	}

	var warnings []string
	for _, raw := range cfg.Proxy.URIs {
		if _, err := proxy.ParseURI(raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("proxy %q will be skipped: %v", raw, err))
		}
	}
	if cfg.VPN.Enabled && cfg.VPN.ChangeCommand == "" {
		warnings = append(warnings, "vpn is enabled but vpn.change_command is empty")
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			warnings = append(warnings, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	for _, w := range warnings {
		printer.Warning(w)
	}

	printer.Success("Configuration is valid")
	printer.Info("Output", cfg.Output.Directory)
	printer.Info("Concurrency", fmt.Sprintf("%d", cfg.Extraction.Concurrency))
	printer.Info("Retry rounds", fmt.Sprintf("%d", cfg.Retry.MaxRounds))
	printer.Info("Proxies", fmt.Sprintf("%d", len(cfg.Proxy.URIs)))
	return nil
}
