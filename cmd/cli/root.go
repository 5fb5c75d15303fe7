// Package cli implements sharedauth-admin, the operator tool of the auth node.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultServer  = "http://localhost:8080"
	adminTokenEnv  = "SHAREDAUTH_ADMIN_TOKEN"
	outputJSON     = "json"
	outputYAML     = "yaml"
	defaultTimeout = 10
)

// options are the persistent flags shared by every command.
type options struct {
	configFile string
	server     string
	token      string
	output     string
	timeoutSec int
}

// NewRootCommand builds the sharedauth-admin command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "sharedauth-admin",
		Short: "A CLI tool for administering sharedauth nodes and their shared key cache.",
		Long: `sharedauth-admin talks to a running auth node over its admin API (key rotation,
token minting) and reads the shared public key cache directly (key inspection, offline token
verification).`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file used to reach the shared key cache")
	flags.StringVar(&opts.server, "server", defaultServer, "base URL of the auth node")
	flags.StringVar(&opts.token, "token", os.Getenv(adminTokenEnv), "ADMIN access token (default $"+adminTokenEnv+")")
	flags.StringVarP(&opts.output, "output", "o", outputJSON, "output format: json or yaml")
	flags.IntVar(&opts.timeoutSec, "timeout", defaultTimeout, "request timeout in seconds")

	rootCmd.AddCommand(
		newKeysCommand(opts),
		newTokenCommand(opts),
		newConfigCommand(opts),
		newAuditCommand(opts),
	)
	return rootCmd
}

// Execute is the main entry point for the CLI application.
// It parses the command-line arguments and executes the matching command. If an error occurs,
// it prints the error and exits with status 1.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
