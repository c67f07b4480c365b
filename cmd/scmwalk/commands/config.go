package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brindlecode/scmwalk/pkg/config"
)

// NewConfigCommand builds `scmwalk config`, which prints the resolved
// configuration (file, environment, and defaults already merged) as YAML,
// so an operator can see the result of the precedence rules. Of these
// settings, `scmwalk walk` applies only the cache directory and shard cap.
func NewConfigCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			out, err := cfg.YAML()
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(out)

			return err
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Configuration file path")

	return cmd
}
