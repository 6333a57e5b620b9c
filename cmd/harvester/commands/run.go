package commands

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pauljones0/comment-harvester/internal/app"
	"github.com/pauljones0/comment-harvester/internal/config"
)

type runFlags struct {
	targets     string
	output      string
	driver      string
	extension   string
	profile     string
	workers     int
	minComments int
	maxAttempts int
	headless    bool
	noResume    bool
	anonymize   bool
	export      bool
}

var runOpts runFlags

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.targets, "targets", "t", "", "targets file (YAML, CSV or one URL per line); overrides TARGETS_FILE")
	f.StringVarP(&runOpts.output, "output", "o", "", "output directory; overrides OUTPUT_DIR")
	f.StringVar(&runOpts.driver, "driver", "", "browser driver: chromedp, playwright or rod")
	f.StringVar(&runOpts.extension, "extension", "", "unpacked companion extension directory")
	f.StringVar(&runOpts.profile, "profile", "", "persistent browser profile directory")
	f.IntVarP(&runOpts.workers, "workers", "w", 0, "parallel browser sessions")
	f.IntVar(&runOpts.minComments, "min-comments", 0, "stop a video once this many comments are collected")
	f.IntVar(&runOpts.maxAttempts, "max-attempts", 0, "maximum pagination cycles per video")
	f.BoolVar(&runOpts.headless, "headless", false, "run the browser headless")
	f.BoolVar(&runOpts.noResume, "no-resume", false, "re-harvest videos that already have a complete artifact")
	f.BoolVar(&runOpts.anonymize, "anonymize", false, "name artifacts video_<n>.json instead of by video id")
	f.BoolVar(&runOpts.export, "export", false, "also merge the extension's plain-text export")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [url...]",
	Short: "Harvests comments for every target and writes one JSON file per video.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyRunFlags(cmd, cfg, runOpts); err != nil {
			return err
		}

		entries, err := app.Entries(cfg.TargetsFile, args)
		if err != nil {
			return err
		}

		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, runErr := a.Run(cmd.Context(), entries)
		app.WriteSummary(cmd.OutOrStdout(), summary)
		slog.Info("Artifacts written", "dir", a.OutputDir())
		return runErr
	},
}

// applyRunFlags overrides cfg with the flags the user actually set.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, f runFlags) error {
	changed := cmd.Flags().Changed
	if changed("targets") {
		cfg.TargetsFile = f.targets
	}
	if changed("output") {
		cfg.OutputDir = f.output
	}
	if changed("driver") {
		switch f.driver {
		case "chromedp", "playwright", "rod":
			cfg.Driver = f.driver
		default:
			return errors.New("--driver must be chromedp, playwright or rod")
		}
	}
	if changed("extension") {
		cfg.ExtensionPath = f.extension
	}
	if changed("profile") {
		cfg.ProfileDir = f.profile
	}
	if changed("workers") {
		if f.workers < 1 {
			return errors.New("--workers must be at least 1")
		}
		cfg.Workers = f.workers
	}
	if changed("min-comments") {
		cfg.MinComments = f.minComments
	}
	if changed("max-attempts") {
		if f.maxAttempts < 1 {
			return errors.New("--max-attempts must be at least 1")
		}
		cfg.MaxAttempts = f.maxAttempts
	}
	if changed("headless") {
		cfg.Headless = f.headless
	}
	if changed("no-resume") {
		cfg.Resume = !f.noResume
	}
	if changed("anonymize") {
		cfg.AnonymizeOutput = f.anonymize
	}
	if changed("export") {
		cfg.ExtensionExport = f.export
	}
	if cfg.ProfileDir != "" && cfg.Workers > 1 {
		return errors.New("a persistent profile cannot be shared by several workers")
	}
	return nil
}
