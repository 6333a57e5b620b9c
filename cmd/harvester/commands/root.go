package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pauljones0/comment-harvester/internal/app"
	"github.com/pauljones0/comment-harvester/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "harvester",
	Short:         "harvester collects YouTube comments through a real browser and its companion extension.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		app.SetupLogging(cfg, os.Stderr)
		return nil
	},
}

// ExecuteContext runs the CLI and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
