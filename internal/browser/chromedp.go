package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

type chromedpBackend struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// chromeFlags returns the switches applied on top of chromedp's defaults.
// Extensions stay enabled even without ExtensionPath so one installed in the
// profile still runs.
func chromeFlags(opts Options) map[string]any {
	f := map[string]any{
		"disable-dev-shm-usage": true,
		"disable-extensions":    false,
		"headless":              false,
	}
	if opts.Headless {
		// Extensions only load in the new headless mode.
		f["headless"] = "new"
	}
	if opts.ExtensionPath != "" {
		f["disable-extensions-except"] = opts.ExtensionPath
		f["load-extension"] = opts.ExtensionPath
	}
	return f
}

func launchChromedp(ctx context.Context, opts Options, profileDir string) (backend, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.UserDataDir(profileDir))
	if opts.BrowserPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.BrowserPath))
	}
	for name, value := range chromeFlags(opts) {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}

	// The browser outlives the caller's context; it ends on close().
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		slog.Debug("chromedp: " + fmt.Sprintf(format, args...))
	}))

	b := &chromedpBackend{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}

	// The first Run starts the process. Cancelling its context would kill
	// the browser, so the startup timeout is enforced from outside.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx)
	}()

	select {
	case err := <-started:
		if err != nil {
			_ = b.close()
			return nil, err
		}
	case <-time.After(opts.StartupTimeout):
		_ = b.close()
		return nil, fmt.Errorf("browser did not start within %s", opts.StartupTimeout)
	case <-ctx.Done():
		_ = b.close()
		return nil, ctx.Err()
	}
	return b, nil
}

func (b *chromedpBackend) run(ctx context.Context, actions ...chromedp.Action) error {
	callCtx, cancel := bindContext(b.browserCtx, ctx)
	defer cancel()
	return chromedp.Run(callCtx, actions...)
}

func (b *chromedpBackend) navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

func (b *chromedpBackend) evaluate(ctx context.Context, script string, out any) error {
	return b.run(ctx, chromedp.Evaluate(script, out))
}

func (b *chromedpBackend) html(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (b *chromedpBackend) title(ctx context.Context) (string, error) {
	var title string
	if err := b.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return strings.TrimSpace(title), nil
}

func (b *chromedpBackend) close() error {
	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
