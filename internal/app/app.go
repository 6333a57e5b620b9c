// Package app wires configuration into a ready-to-run harvest pipeline.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/pauljones0/comment-harvester/internal/bridge"
	"github.com/pauljones0/comment-harvester/internal/browser"
	"github.com/pauljones0/comment-harvester/internal/config"
	"github.com/pauljones0/comment-harvester/internal/extract"
	"github.com/pauljones0/comment-harvester/internal/harvest"
	"github.com/pauljones0/comment-harvester/internal/ingest"
	"github.com/pauljones0/comment-harvester/internal/models"
	"github.com/pauljones0/comment-harvester/internal/notifier"
	"github.com/pauljones0/comment-harvester/internal/output"
	"github.com/pauljones0/comment-harvester/internal/processor"
	"github.com/pauljones0/comment-harvester/internal/storage"
)

// Trimmer bounds the size of the artifact mirror.
type Trimmer interface {
	TrimOldVideos(ctx context.Context, maxVideos int) error
}

type App struct {
	cfg       *config.Config
	processor processor.Processor
	writer    *output.Writer
	store     *storage.Client
	trimmer   Trimmer
}

// SetupLogging installs the default slog handler described by cfg.
func SetupLogging(cfg *config.Config, w io.Writer) {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// New builds the pipeline. The Firestore mirror and the summary webhook are
// attached only when configured.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	writer, err := output.NewWriter(cfg.OutputDir, cfg.AnonymizeOutput)
	if err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}

	extractor := extract.New(extract.LoadConfig())
	limiter := rate.NewLimiter(rate.Every(cfg.PageLoadInterval), 1)
	controller := harvest.NewController(harvest.OptionsFromConfig(cfg), extractor, limiter)

	p := processor.New(
		processor.BrowserFactory{Options: browser.OptionsFromConfig(cfg)},
		processor.BridgeFactory{Options: bridge.OptionsFromConfig(cfg)},
		controller,
		writer,
		cfg,
	)

	a := &App{cfg: cfg, writer: writer}

	if cfg.ProjectID != "" {
		store, err := storage.New(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("firestore: %w", err)
		}
		a.store = store
		a.trimmer = store
		p.WithMirror(store)
		slog.Info("Mirroring artifacts to Firestore", "project", cfg.ProjectID)
	}
	if cfg.SummaryWebhookURL != "" {
		p.WithNotifier(notifier.New(cfg.SummaryWebhookURL))
	}

	a.processor = p
	return a, nil
}

// OutputDir is where artifacts are written.
func (a *App) OutputDir() string {
	return a.writer.Dir()
}

func (a *App) IngestOptions() ingest.Options {
	return ingest.Options{
		CheckReachability: a.cfg.CheckReachability,
		AllowedDomains:    a.cfg.AllowedDomains,
	}
}

// Run harvests the given inputs and then trims the mirror when a retention
// limit is set. The summary is returned even when err is non-nil.
func (a *App) Run(ctx context.Context, entries []ingest.Entry) (*models.RunSummary, error) {
	summary, err := a.processor.RunEntries(ctx, entries, a.IngestOptions())

	if a.trimmer != nil && a.cfg.MirrorMaxVideos > 0 {
		tctx := context.WithoutCancel(ctx)
		if terr := a.trimmer.TrimOldVideos(tctx, a.cfg.MirrorMaxVideos); terr != nil {
			slog.Warn("Failed to trim artifact mirror", "error", terr)
		}
	}
	return summary, err
}

func (a *App) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// Entries merges a targets file (if any) with URLs given directly.
func Entries(targetsFile string, urls []string) ([]ingest.Entry, error) {
	var entries []ingest.Entry
	if targetsFile != "" {
		loaded, err := ingest.LoadTargets(targetsFile)
		if err != nil {
			return nil, err
		}
		entries = append(entries, loaded...)
	}
	entries = append(entries, ingest.EntriesFromURLs(urls)...)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no targets: pass URLs or set TARGETS_FILE")
	}
	return entries, nil
}

// WriteSummary prints one line per video: artifact file, title and comment count.
func WriteSummary(w io.Writer, s *models.RunSummary) {
	complete, partial, skipped := s.Counts()
	fmt.Fprintf(w, "Run %s: %d complete, %d partial, %d skipped", s.RunID, complete, partial, skipped)
	if s.InputSkipped > 0 {
		fmt.Fprintf(w, ", %d inputs rejected", s.InputSkipped)
	}
	fmt.Fprintln(w)
	for _, r := range s.Results {
		title := r.Title
		if title == "" {
			title = "-"
		}
		file := r.Path
		if file == "" {
			file = "-"
		}
		line := fmt.Sprintf("  [%s] %s  %q  %d comments", r.Status, file, title, r.Comments)
		if r.Reason != "" && r.Status != models.StatusComplete {
			line += "  (" + r.Reason + ")"
		}
		fmt.Fprintln(w, line)
	}
	if s.Aborted != "" {
		fmt.Fprintf(w, "Run aborted: %s\n", s.Aborted)
	}
}
