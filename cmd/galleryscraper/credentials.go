package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"galleryscraper/pkg/credentials"
	"galleryscraper/pkg/logger"
	"galleryscraper/pkg/proxy"
	"galleryscraper/pkg/ui"
)

// credentialsCmd represents the credentials command
var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage stored proxy credentials",
	Long: `Manage proxy credentials stored outside the configuration file.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - GALLERYSCRAPER_PROXY_USERNAME / GALLERYSCRAPER_PROXY_PASSWORD (read only)

They are applied to configured proxies whose URI carries no user info.`,
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set <proxy-uri> [username]",
	Short: "Store credentials for a proxy",
	Example: `  galleryscraper credentials set http://10.0.0.1:3128 alice`,
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE:         runCredentialsSet,
}

var credentialsDeleteCmd = &cobra.Command{
	Use:          "delete <proxy-uri>",
	Short:        "Remove stored credentials for a proxy",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runCredentialsDelete,
}

var credentialsListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List proxies with stored credentials",
	SilenceUsage: true,
	RunE:         runCredentialsList,
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsDeleteCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
}

// endpointKey normalizes a proxy URI to the key credentials are stored under
func endpointKey(raw string) (string, error) {
	e, err := proxy.ParseURI(raw)
	if err != nil {
		return "", err
	}
	return e.Key(), nil
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout(), noColor)
	key, err := endpointKey(args[0])
	if err != nil {
		printer.Error("Invalid proxy URI", err)
		return err
	}

	manager, err := credentials.NewManager(logger.GetLogger())
	if err != nil {
		printer.Error("Failed to initialize credential manager", err)
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	username := ""
	if len(args) > 1 {
		username = strings.TrimSpace(args[1])
	}
	if username == "" {
		fmt.Fprint(cmd.OutOrStdout(), "Proxy username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			printer.Error("Failed to read username", err)
			return err
		}
		username = strings.TrimSpace(input)
	}

	fmt.Fprint(cmd.OutOrStdout(), "Proxy password: ")
	password, err := readPassword(reader)
	if err != nil {
		printer.Error("Failed to read password", err)
		return err
	}

	if err := manager.Store(&credentials.ProxyCredential{
		Endpoint:     key,
		Username:     username,
		Password:     password,
		LastModified: time.Now(),
	}); err != nil {
		printer.Error("Failed to store credentials", err)
		return err
	}
	printer.Success(fmt.Sprintf("Credentials saved for %s", key))
	return nil
}

func runCredentialsDelete(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout(), noColor)
	key, err := endpointKey(args[0])
	if err != nil {
		printer.Error("Invalid proxy URI", err)
		return err
	}

	manager, err := credentials.NewManager(logger.GetLogger())
	if err != nil {
		printer.Error("Failed to initialize credential manager", err)
		return err
	}
	if err := manager.Delete(key); err != nil {
		printer.Error("Failed to remove credentials", err)
		return err
	}
	printer.Success(fmt.Sprintf("Credentials removed for %s", key))
	return nil
}

func runCredentialsList(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout(), noColor)
	manager, err := credentials.NewManager(logger.GetLogger())
	if err != nil {
		printer.Error("Failed to initialize credential manager", err)
		return err
	}

	creds, err := manager.List()
	if err != nil {
		printer.Error("Failed to list credentials", err)
		return err
	}
	if len(creds) == 0 {
		printer.Warning("no stored proxy credentials")
		return nil
	}
	for _, c := range creds {
		safe := credentials.Sanitize(c)
		printer.Info(safe.Endpoint, fmt.Sprintf("%s / %s (updated %s)",
			safe.Username, safe.Password, safe.LastModified.Format(time.RFC3339)))
	}
	return nil
}

func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
