package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

type rodBackend struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

func launchRod(ctx context.Context, opts Options, profileDir string) (backend, error) {
	l := launcher.New().
		UserDataDir(profileDir).
		Headless(false).
		Leakless(false)
	if opts.Headless {
		l = l.HeadlessNew(true)
	}
	if opts.BrowserPath != "" {
		l = l.Bin(opts.BrowserPath)
	}
	l = l.Delete(flags.Flag("disable-extensions"))
	if opts.ExtensionPath != "" {
		l = l.Set(flags.Flag("disable-extensions-except"), opts.ExtensionPath).
			Set(flags.Flag("load-extension"), opts.ExtensionPath)
	}

	type launched struct {
		url string
		err error
	}
	done := make(chan launched, 1)
	go func() {
		u, err := l.Launch()
		done <- launched{u, err}
	}()

	var controlURL string
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("launch chrome: %w", r.err)
		}
		controlURL = r.url
	case <-time.After(opts.StartupTimeout):
		l.Kill()
		return nil, fmt.Errorf("browser did not start within %s", opts.StartupTimeout)
	case <-ctx.Done():
		l.Kill()
		return nil, ctx.Err()
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}

	return &rodBackend{launcher: l, browser: browser, page: page}, nil
}

func (b *rodBackend) navigate(ctx context.Context, url string) error {
	p := b.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (b *rodBackend) evaluate(ctx context.Context, script string, out any) error {
	// rod evaluates function definitions, not bare expressions.
	res, err := b.page.Context(ctx).Eval("() => (" + script + ")")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

func (b *rodBackend) html(ctx context.Context) (string, error) {
	return b.page.Context(ctx).HTML()
}

func (b *rodBackend) title(ctx context.Context) (string, error) {
	info, err := b.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(info.Title), nil
}

func (b *rodBackend) close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	return err
}
