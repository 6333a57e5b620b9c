package commands

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/pauljones0/comment-harvester/internal/config"
)

func newFlagCmd(t *testing.T, args ...string) (*cobra.Command, runFlags) {
	t.Helper()
	var f runFlags
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().StringVar(&f.driver, "driver", "", "")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "")
	cmd.Flags().StringVar(&f.profile, "profile", "", "")
	cmd.Flags().BoolVar(&f.noResume, "no-resume", false, "")
	cmd.Flags().BoolVar(&f.headless, "headless", false, "")
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return cmd, f
}

func TestApplyRunFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cfg := &config.Config{Driver: "chromedp", OutputDir: "out", Workers: 2, Resume: true, Headless: true}
	cmd, f := newFlagCmd(t, "--driver", "rod", "-w", "4", "--no-resume")

	if err := applyRunFlags(cmd, cfg, f); err != nil {
		t.Fatalf("applyRunFlags() error = %v", err)
	}
	if cfg.Driver != "rod" || cfg.Workers != 4 || cfg.Resume {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.OutputDir != "out" || !cfg.Headless {
		t.Errorf("unset flags must keep config values: %+v", cfg)
	}
}

func TestApplyRunFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown driver", []string{"--driver", "selenium"}},
		{"zero workers", []string{"--workers", "0"}},
		{"shared profile", []string{"--workers", "2", "--profile", "/tmp/p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, f := newFlagCmd(t, tt.args...)
			if err := applyRunFlags(cmd, &config.Config{}, f); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
