// Package harvest drives one video page from load to a settled, fully
// paginated comment section.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pauljones0/comment-harvester/internal/bridge"
	"github.com/pauljones0/comment-harvester/internal/config"
	"github.com/pauljones0/comment-harvester/internal/dedup"
	"github.com/pauljones0/comment-harvester/internal/extract"
	"github.com/pauljones0/comment-harvester/internal/models"
	"github.com/pauljones0/comment-harvester/internal/util"
)

const (
	titleSuffix    = " - YouTube"
	maxDiagnostics = 50
	loadRetries    = 2
)

// Page is what the controller needs from a browser session.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, script string, out any) error
	HTML(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
}

// Expander is the extension bridge as seen by the controller.
type Expander interface {
	Expand(ctx context.Context, scope string) error
	Export(ctx context.Context) (string, error)
}

type Options struct {
	SettleTimeout      time.Duration
	SettlePollInterval time.Duration
	StallCycles        int
	MaxAttempts        int
	MinComments        int
	ExtensionExport    bool
	LoadRetryBase      time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SettleTimeout:      cfg.SettleTimeout,
		SettlePollInterval: cfg.SettlePollInterval,
		StallCycles:        cfg.StallCycles,
		MaxAttempts:        cfg.MaxAttempts,
		MinComments:        cfg.MinComments,
		ExtensionExport:    cfg.ExtensionExport,
		LoadRetryBase:      util.DefaultBackoffBase,
	}
}

// Controller runs the expand → scroll → settle → snapshot → extract → fold
// cycle for a single video. It holds no per-video state and is safe to
// share between workers.
type Controller struct {
	opts      Options
	extractor *extract.Extractor
	limiter   *rate.Limiter
}

// NewController builds a controller. limiter paces page loads across all
// workers sharing it; nil disables pacing.
func NewController(opts Options, extractor *extract.Extractor, limiter *rate.Limiter) *Controller {
	if opts.StallCycles < 1 {
		opts.StallCycles = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.SettlePollInterval <= 0 {
		opts.SettlePollInterval = 500 * time.Millisecond
	}
	return &Controller{opts: opts, extractor: extractor, limiter: limiter}
}

// Harvest loads the target and paginates until the comment section stops
// growing, the target's comment count is reached or attempts run out.
//
// The returned session is never nil and always holds whatever was
// accumulated, so the caller can flush a partial artifact when err is
// non-nil. err wraps models.ErrBridgeUnavailable when the extension went
// away, or is the context error when the run was cancelled.
func (c *Controller) Harvest(ctx context.Context, page Page, expander Expander, target models.VideoTarget) (*Session, error) {
	s := NewSession(target)
	maxAttempts := c.opts.MaxAttempts
	if target.MaxAttempts > 0 {
		maxAttempts = target.MaxAttempts
	}
	minComments := c.opts.MinComments
	if target.MinComments > 0 {
		minComments = target.MinComments
	}

	if err := c.load(ctx, page, s); err != nil {
		return s, err
	}

	for {
		if err := ctx.Err(); err != nil {
			s.interrupt()
			return s, err
		}

		s.Cycle++
		before := s.Accumulator.Len()

		// 1. Expand
		if expander != nil {
			if err := expander.Expand(ctx, bridge.ScopeAll); err != nil {
				switch {
				case ctx.Err() != nil:
					s.interrupt()
					return s, ctx.Err()
				case errors.Is(err, models.ErrExpansionTimeout):
					s.note(fmt.Sprintf("cycle %d: %v", s.Cycle, err))
					slog.Warn("Expansion timed out, continuing with rendered comments", "video", target.VideoID, "cycle", s.Cycle)
				default:
					s.Termination = models.TerminationBridgeFailed
					s.note(fmt.Sprintf("cycle %d: %v", s.Cycle, err))
					return s, err
				}
			}
		}

		// 2. Scroll
		if err := page.Evaluate(ctx, scrollScript, nil); err != nil && ctx.Err() == nil {
			slog.Debug("Scroll failed", "video", target.VideoID, "cycle", s.Cycle, "error", err)
		}

		// 3. Settle
		count := c.settle(ctx, page)

		// 4. Snapshot, 5. extract, 6. fold
		snap, err := c.snapshot(ctx, page, expander, s)
		switch {
		case ctx.Err() != nil:
			s.interrupt()
			return s, ctx.Err()
		case err != nil:
			s.Stalls++
			s.note(fmt.Sprintf("cycle %d: %v", s.Cycle, err))
			slog.Warn("Snapshot failed twice, counting cycle as stalled", "video", target.VideoID, "cycle", s.Cycle, "error", err)
		default:
			records, diags := c.extractor.Extract(snap)
			for _, d := range diags {
				s.skip(d)
			}
			added := s.Accumulator.Fold(records)
			if dedup.Stalled(before, s.Accumulator.Len()) {
				s.Stalls++
			} else {
				s.Stalls = 0
			}
			slog.Debug("Cycle complete",
				"video", target.VideoID,
				"cycle", s.Cycle,
				"nodes", count,
				"extracted", len(records),
				"added", added,
				"total", s.Accumulator.Len(),
				"stalls", s.Stalls,
			)
		}

		// 7. Terminate?
		switch {
		case s.Stalls >= c.opts.StallCycles:
			s.Termination = models.TerminationStalled
		case minComments > 0 && s.Accumulator.Len() >= minComments:
			s.Termination = models.TerminationTargetReached
		case s.Cycle >= maxAttempts:
			s.Termination = models.TerminationMaxAttempts
		default:
			continue
		}

		slog.Info("Harvest finished",
			"video", target.VideoID,
			"termination", s.Termination,
			"cycles", s.Cycle,
			"comments", s.Accumulator.Len(),
			"skipped", s.Skipped,
		)
		return s, nil
	}
}

func (c *Controller) load(ctx context.Context, page Page, s *Session) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			s.interrupt()
			return err
		}
	}

	err := util.RetryWithBackoffBase(ctx, loadRetries, c.opts.LoadRetryBase, func(attempt int) error {
		if attempt > 0 {
			slog.Info("Retrying page load", "video", s.Target.VideoID, "attempt", attempt+1)
		}
		return page.Navigate(ctx, s.Target.URL)
	})
	if err != nil {
		if ctx.Err() != nil {
			s.interrupt()
			return ctx.Err()
		}
		s.Termination = models.TerminationLoadFailed
		s.note(err.Error())
		return fmt.Errorf("load %s: %w", s.Target.URL, err)
	}

	if title, err := page.Title(ctx); err == nil {
		s.Title = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(title), titleSuffix))
	} else {
		slog.Debug("Failed to read page title", "video", s.Target.VideoID, "error", err)
	}
	slog.Info("Loaded video page", "video", s.Target.VideoID, "title", s.Title)
	return nil
}

// settle polls the comment-node count until two consecutive reads agree or
// the settle timeout passes, and returns the last count read.
func (c *Controller) settle(ctx context.Context, page Page) int {
	settleCtx := ctx
	if c.opts.SettleTimeout > 0 {
		var cancel context.CancelFunc
		settleCtx, cancel = context.WithTimeout(ctx, c.opts.SettleTimeout)
		defer cancel()
	}

	script := countScript(c.extractor.CommentSelector())
	ticker := time.NewTicker(c.opts.SettlePollInterval)
	defer ticker.Stop()

	last := -1
	for {
		var n int
		if err := page.Evaluate(settleCtx, script, &n); err == nil {
			if n == last {
				return n
			}
			last = n
		}
		select {
		case <-settleCtx.Done():
			return last
		case <-ticker.C:
		}
	}
}

// snapshot reads the rendered page, retrying once.
func (c *Controller) snapshot(ctx context.Context, page Page, expander Expander, s *Session) (models.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		html, err := page.HTML(ctx)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		snap := models.Snapshot{
			Cycle:   s.Cycle,
			URL:     s.Target.URL,
			Title:   s.Title,
			HTML:    html,
			TakenAt: time.Now(),
		}
		if c.opts.ExtensionExport && expander != nil {
			text, err := expander.Export(ctx)
			if err != nil {
				slog.Warn("Extension export failed, using rendered page only", "video", s.Target.VideoID, "error", err)
			} else {
				snap.Export = text
			}
		}
		return snap, nil
	}
	return models.Snapshot{}, fmt.Errorf("%w: %v", models.ErrDOMRead, lastErr)
}
