package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pauljones0/comment-harvester/internal/browser"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Starts and stops one browser session to verify the driver, browser version and extension path.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := browser.Acquire(cmd.Context(), browser.OptionsFromConfig(cfg))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "driver=%s browser=%s profile=%s\n", sess.Driver(), sess.Version(), sess.ProfileDir())
		return browser.Release(sess)
	},
}
