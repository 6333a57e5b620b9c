// Package processor coordinates a harvest run: it hands targets to a pool
// of workers, each owning one browser session, and flushes one artifact per
// video.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pauljones0/comment-harvester/internal/browser"
	"github.com/pauljones0/comment-harvester/internal/config"
	"github.com/pauljones0/comment-harvester/internal/harvest"
	"github.com/pauljones0/comment-harvester/internal/ingest"
	"github.com/pauljones0/comment-harvester/internal/models"
)

const sinkTimeout = 30 * time.Second

type Processor interface {
	Run(ctx context.Context, targets []models.VideoTarget) (*models.RunSummary, error)
	RunEntries(ctx context.Context, entries []ingest.Entry, opts ingest.Options) (*models.RunSummary, error)
}

type Pipeline struct {
	sessions  SessionFactory
	expanders ExpanderFactory
	harvester Harvester
	writer    ArtifactWriter
	mirror    ArtifactMirror
	notifier  SummaryNotifier
	workers   int
	resume    bool
}

func New(sessions SessionFactory, expanders ExpanderFactory, h Harvester, w ArtifactWriter, cfg *config.Config) *Pipeline {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		sessions:  sessions,
		expanders: expanders,
		harvester: h,
		writer:    w,
		workers:   workers,
		resume:    cfg.Resume,
	}
}

// WithMirror copies every flushed artifact to m.
func (p *Pipeline) WithMirror(m ArtifactMirror) *Pipeline {
	p.mirror = m
	return p
}

// WithNotifier posts the run summary to n when the run ends.
func (p *Pipeline) WithNotifier(n SummaryNotifier) *Pipeline {
	p.notifier = n
	return p
}

// Run harvests every target and returns the run summary. Every target ends
// in the summary as complete, partial or skipped. The error is non-nil only
// when the run was aborted: an environment error (browser and driver
// mismatch, browser cannot start) or cancellation. The summary is returned
// in both cases.
func (p *Pipeline) Run(ctx context.Context, targets []models.VideoTarget) (*models.RunSummary, error) {
	return p.run(ctx, targets, 0)
}

// RunEntries normalizes, dedupes and optionally reachability-checks raw
// inputs before running. Rejected inputs are counted in the summary.
func (p *Pipeline) RunEntries(ctx context.Context, entries []ingest.Entry, opts ingest.Options) (*models.RunSummary, error) {
	targets, report := ingest.Prepare(ctx, entries, opts)
	return p.run(ctx, targets, report.Skipped())
}

func (p *Pipeline) run(ctx context.Context, targets []models.VideoTarget, inputSkipped int) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now(),
		InputSkipped: inputSkipped,
		Results:      make([]models.VideoResult, len(targets)),
	}
	slog.Info("Starting harvest run", "run_id", summary.RunID, "targets", len(targets), "workers", p.workers)

	var pending []int
	for i, t := range targets {
		summary.Results[i] = models.VideoResult{
			VideoID: t.VideoID,
			URL:     t.URL,
			Status:  models.StatusSkipped,
			Reason:  "run stopped before this video started",
		}
		if p.resume && p.writer.Completed(t) {
			summary.Results[i].Reason = "already harvested"
			slog.Info("Skipping already harvested video", "video", t.VideoID)
			continue
		}
		pending = append(pending, i)
	}

	var mu sync.Mutex
	record := func(i int, r models.VideoResult) {
		mu.Lock()
		summary.Results[i] = r
		mu.Unlock()
	}

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, i := range pending {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	workers := min(p.workers, len(pending))
	for w := 1; w <= workers; w++ {
		g.Go(func() error {
			return p.worker(gctx, w, targets, jobs, summary.RunID, record)
		})
	}

	runErr := g.Wait()
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		summary.Aborted = runErr.Error()
	}
	summary.FinishedAt = time.Now()

	complete, partial, skipped := summary.Counts()
	slog.Info("Harvest run finished",
		"run_id", summary.RunID,
		"complete", complete,
		"partial", partial,
		"skipped", skipped,
		"input_skipped", summary.InputSkipped,
		"comments", summary.TotalComments(),
		"duration", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second),
	)

	if p.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		if err := p.notifier.SendSummary(nctx, summary); err != nil {
			slog.Warn("Failed to send run summary", "error", err)
		}
		cancel()
	}
	return summary, runErr
}

// worker owns at most one browser session at a time. The session is kept
// across videos and replaced after a bridge or load failure.
func (p *Pipeline) worker(ctx context.Context, id int, targets []models.VideoTarget, jobs <-chan int, runID string, record func(int, models.VideoResult)) error {
	var sess browser.Session
	var expander harvest.Expander
	release := func() {
		if err := browser.Release(sess); err != nil {
			slog.Warn("Failed to release browser session", "worker", id, "error", err)
		}
		sess, expander = nil, nil
	}
	defer release()

	for i := range jobs {
		target := targets[i]
		if ctx.Err() != nil {
			continue
		}

		if sess == nil {
			s, err := p.sessions.Acquire(ctx)
			if err != nil {
				if models.IsEnvironmentFatal(err) {
					slog.Error("Browser environment unusable, aborting run", "worker", id, "error", err)
					record(i, models.VideoResult{
						VideoID: target.VideoID,
						URL:     target.URL,
						Status:  models.StatusSkipped,
						Reason:  err.Error(),
					})
					return err
				}
				if ctx.Err() == nil {
					slog.Error("Failed to start browser session", "worker", id, "video", target.VideoID, "error", err)
					record(i, models.VideoResult{
						VideoID: target.VideoID,
						URL:     target.URL,
						Status:  models.StatusSkipped,
						Reason:  err.Error(),
					})
				}
				continue
			}
			sess = s
			expander = p.expanders.NewExpander(sess)
		}

		started := time.Now()
		slog.Info("Harvesting video", "worker", id, "video", target.VideoID, "index", target.Index)
		hs, err := p.harvester.Harvest(ctx, sess, expander, target)
		if hs == nil {
			hs = harvest.NewFailedSession(target, models.TerminationLoadFailed, fmt.Sprint(err))
		}
		info := sessionInfo(sess)

		switch {
		case err == nil:
		case ctx.Err() != nil:
			slog.Info("Harvest interrupted, flushing partial results", "video", target.VideoID, "comments", hs.Accumulator.Len())
		case errors.Is(err, models.ErrBridgeUnavailable):
			slog.Error("Extension bridge unavailable, flushing partial results", "video", target.VideoID, "error", err)
			release()
		default:
			slog.Error("Harvest failed", "video", target.VideoID, "error", err)
			release()
		}

		record(i, p.flush(ctx, target, hs, runID, info, started))
	}
	return nil
}

type browserInfo struct {
	driver  string
	version string
}

func sessionInfo(sess browser.Session) browserInfo {
	if sess == nil {
		return browserInfo{}
	}
	return browserInfo{driver: sess.Driver(), version: sess.Version()}
}

func (p *Pipeline) flush(ctx context.Context, target models.VideoTarget, hs *harvest.Session, runID string, info browserInfo, started time.Time) models.VideoResult {
	artifact := hs.Artifact(time.Now())
	artifact.Meta.RunID = runID
	artifact.Meta.Driver = info.driver
	artifact.Meta.BrowserVersion = info.version

	result := models.VideoResult{
		VideoID:  target.VideoID,
		URL:      target.URL,
		Title:    hs.Title,
		Comments: artifact.Meta.TotalCount,
		Duration: time.Since(started),
		Status:   models.StatusComplete,
		Reason:   hs.Termination,
	}
	if artifact.Meta.Partial {
		result.Status = models.StatusPartial
		result.Reason = artifact.Meta.PartialReason
	}

	path, err := p.writer.Flush(target, artifact)
	if err != nil {
		slog.Error("Failed to write artifact", "video", target.VideoID, "error", err)
		result.Status = models.StatusSkipped
		result.Reason = err.Error()
		result.Comments = 0
		return result
	}
	result.Path = path

	if p.mirror != nil {
		// Partial flushes happen after cancellation; the mirror still gets
		// a bounded chance to run.
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		defer cancel()
		if err := p.mirror.SaveArtifact(mctx, artifact); err != nil {
			slog.Warn("Failed to mirror artifact", "video", target.VideoID, "error", err)
		}
	}
	return result
}
