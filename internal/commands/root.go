// Package commands wires the CLI surface.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinoosan/recon/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "recon",
		Short:   "Financial reconciliation engine",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "recon.yaml", "path to config file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRebalanceCommand())
	rootCmd.AddCommand(newExportCommand())

	return rootCmd
}
