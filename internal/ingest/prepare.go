package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/pauljones0/comment-harvester/internal/models"
	"github.com/pauljones0/comment-harvester/internal/util"
)

const (
	reachabilityWorkers = 4
	reachabilityRetries = 1
)

// Report lists the inputs that did not become targets.
type Report struct {
	Malformed   []string
	Duplicates  []string
	Unreachable []string
}

func (r Report) Skipped() int {
	return len(r.Malformed) + len(r.Duplicates) + len(r.Unreachable)
}

type Options struct {
	CheckReachability bool
	AllowedDomains    []string
	HTTPClient        *http.Client
	RetryBase         time.Duration
}

// Prepare normalizes every entry to a canonical watch URL, drops malformed
// and duplicate URLs, and with CheckReachability drops videos whose page
// does not load. Targets keep input order and get 1-based indexes.
func Prepare(ctx context.Context, entries []Entry, opts Options) ([]models.VideoTarget, Report) {
	var report Report
	var targets []models.VideoTarget
	seen := make(map[string]bool)

	for _, e := range entries {
		canonical, videoID, ok := util.NormalizeVideoURL(e.URL)
		if !ok {
			report.Malformed = append(report.Malformed, e.URL)
			continue
		}
		if seen[videoID] {
			report.Duplicates = append(report.Duplicates, e.URL)
			continue
		}
		seen[videoID] = true
		targets = append(targets, models.VideoTarget{
			VideoID:     videoID,
			URL:         canonical,
			MinComments: e.MinComments,
			MaxAttempts: e.MaxAttempts,
		})
	}

	if opts.CheckReachability && len(targets) > 0 {
		targets, report.Unreachable = filterReachable(ctx, targets, opts)
	}

	for i := range targets {
		targets[i].Index = i + 1
	}

	for _, u := range report.Malformed {
		slog.Warn("Skipping malformed URL", "url", u)
	}
	for _, u := range report.Duplicates {
		slog.Info("Skipping duplicate URL", "url", u)
	}
	for _, u := range report.Unreachable {
		slog.Warn("Skipping unreachable URL", "url", u)
	}
	slog.Info("Prepared targets", "targets", len(targets), "skipped", report.Skipped())
	return targets, report
}

func filterReachable(ctx context.Context, targets []models.VideoTarget, opts Options) ([]models.VideoTarget, []string) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	base := opts.RetryBase
	if base <= 0 {
		base = util.DefaultBackoffBase
	}

	reachable := make([]bool, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reachabilityWorkers)
	for i, t := range targets {
		g.Go(func() error {
			err := util.RetryWithBackoffBase(gctx, reachabilityRetries, base, func(attempt int) error {
				return checkReachable(gctx, client, t.URL, opts.AllowedDomains)
			})
			if err != nil {
				slog.Debug("Reachability check failed", "url", t.URL, "error", err)
			}
			mu.Lock()
			reachable[i] = err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var kept []models.VideoTarget
	var unreachable []string
	for i, t := range targets {
		if reachable[i] {
			kept = append(kept, t)
		} else {
			unreachable = append(unreachable, t.URL)
		}
	}
	return kept, unreachable
}

// hostAllowed matches host exactly or by its registrable domain, so
// "youtube.com" also admits "m.youtube.com".
func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	if slices.Contains(allowed, host) {
		return true
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	return err == nil && slices.Contains(allowed, domain)
}

// checkReachable fetches the page. Client errors are permanent; server
// errors and network failures are retried.
func checkReachable(ctx context.Context, client *http.Client, rawURL string, allowed []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return util.Permanent(fmt.Errorf("invalid URL %s: %w", rawURL, err))
	}
	if len(allowed) > 0 && !hostAllowed(parsed.Hostname(), allowed) {
		return util.Permanent(fmt.Errorf("security violation: URL hostname %s is not in allowlist", parsed.Hostname()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return util.Permanent(fmt.Errorf("failed to create request for URL %s: %w", rawURL, err))
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch URL %s: %w", rawURL, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 500:
		return fmt.Errorf("failed to fetch URL %s: status code %d", rawURL, res.StatusCode)
	case res.StatusCode >= 400:
		return util.Permanent(fmt.Errorf("failed to fetch URL %s: status code %d", rawURL, res.StatusCode))
	}
	return nil
}
