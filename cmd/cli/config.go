package cli

import (
	"github.com/spf13/cobra"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/pkg/logger"
)

func newConfigCommand(opts *options) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect node configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after file and environment overrides, secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(opts.configFile, logger.NewNoopLogger())
			if _, err := loader.Load(); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), opts.output, loader.Settings())
		},
	})
	return configCmd
}
