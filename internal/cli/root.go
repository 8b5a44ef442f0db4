// Package cli builds the weaponid command tree.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCmd returns the top-level command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weaponid",
		Short: "Authenticated weapon recognition API",
		Long: `weaponid serves an HTTP API that accepts images, runs them through an
object-detection model and returns ranked weapon detections.

Settings are read from the environment; a .env file in the working
directory is loaded first when present.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(
		newServeCmd(),
		newUserCmd(),
		newTokenCmd(),
		newHistoryCmd(),
	)
	return cmd
}
