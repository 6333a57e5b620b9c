package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/pauljones0/comment-harvester/internal/models"
)

const playwrightDefaultTimeout = 30 * time.Second

type playwrightBackend struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
}

func launchPlaywright(ctx context.Context, opts Options, profileDir string) (backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
	if err != nil {
		if strings.Contains(err.Error(), "install") {
			return nil, fmt.Errorf("%w: playwright driver: %v", models.ErrEnvironmentMismatch, err)
		}
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(false),
		Args:     extensionArgs(opts.ExtensionPath),
		Timeout:  playwright.Float(float64(opts.StartupTimeout.Milliseconds())),
	}
	if opts.Headless {
		// Persistent contexts with extensions need the "chromium" channel
		// for headless runs.
		launchOpts.Headless = playwright.Bool(true)
		launchOpts.Channel = playwright.String("chromium")
	}
	if opts.BrowserPath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.BrowserPath)
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(profileDir, launchOpts)
	if err != nil {
		_ = pw.Stop()
		if strings.Contains(err.Error(), "Executable doesn't exist") {
			return nil, fmt.Errorf("%w: %v", models.ErrEnvironmentMismatch, err)
		}
		return nil, err
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		_ = bctx.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("open page: %w", err)
	}

	return &playwrightBackend{pw: pw, context: bctx, page: page}, nil
}

func (b *playwrightBackend) navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(remaining(ctx, playwrightDefaultTimeout).Milliseconds())),
	})
	return err
}

// evaluate runs the script on a goroutine so the caller's context can
// abandon it; playwright-go calls do not take a context.
func (b *playwrightBackend) evaluate(ctx context.Context, script string, out any) error {
	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := b.page.Evaluate(script)
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}
	if out == nil {
		return nil
	}

	// Round-trip through JSON so out gets the same decoding as the other
	// backends.
	raw, err := json.Marshal(r.value)
	if err != nil {
		return fmt.Errorf("encode evaluate result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

func (b *playwrightBackend) html(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.page.Content()
}

func (b *playwrightBackend) title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t, err := b.page.Title()
	return strings.TrimSpace(t), err
}

func (b *playwrightBackend) close() error {
	return errors.Join(b.context.Close(), b.pw.Stop())
}
