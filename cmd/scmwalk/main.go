// Command scmwalk is a thin demonstration front end for the revision
// acquisition pipeline: it opens a git or Subversion repository, wraps it
// in the on-disk revision cache, and walks its history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brindlecode/scmwalk/cmd/scmwalk/commands"
	"github.com/brindlecode/scmwalk/pkg/version"
)

func main() {
	root := &cobra.Command{
		Use:           "scmwalk",
		Short:         "Walk a git or Subversion repository's revision history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(commands.NewWalkCommand())
	root.AddCommand(commands.NewConfigCommand())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scmwalk:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the scmwalk version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "scmwalk %s (commit: %s, built: %s)\n",
				version.Version, version.Commit, version.Date)

			return nil
		},
	}
}
