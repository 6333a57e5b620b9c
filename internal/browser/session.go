// Package browser launches and tears down the automated browser that hosts
// the companion extension.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pauljones0/comment-harvester/internal/config"
	"github.com/pauljones0/comment-harvester/internal/models"
)

// Supported backends.
const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
)

// Page is the set of page operations the rest of the harvester needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a JavaScript expression and decodes its JSON-serializable
	// result into out. out may be nil.
	Evaluate(ctx context.Context, script string, out any) error
	HTML(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
}

// Session is one running browser with a single page.
type Session interface {
	Page
	Driver() string
	Version() string
	ProfileDir() string
	Close() error
}

// Options controls how a browser is launched.
type Options struct {
	Driver         string
	BrowserPath    string
	MajorVersion   string // Expected major version, empty to skip the check
	ProfileDir     string // Persistent profile; empty means an ephemeral temp dir
	ExtensionPath  string
	Headless       bool
	StartupTimeout time.Duration
}

// OptionsFromConfig maps the loaded configuration onto launch options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Driver:         cfg.Driver,
		BrowserPath:    cfg.BrowserPath,
		MajorVersion:   cfg.BrowserMajorVersion,
		ProfileDir:     cfg.ProfileDir,
		ExtensionPath:  cfg.ExtensionPath,
		Headless:       cfg.Headless,
		StartupTimeout: cfg.StartupTimeout,
	}
}

// backend is the driver-specific half of a session.
type backend interface {
	navigate(ctx context.Context, url string) error
	evaluate(ctx context.Context, script string, out any) error
	html(ctx context.Context) (string, error)
	title(ctx context.Context) (string, error)
	close() error
}

type launchFunc func(ctx context.Context, opts Options, profileDir string) (backend, error)

func launcherFor(driver string) (launchFunc, error) {
	switch driver {
	case DriverChromedp, "":
		return launchChromedp, nil
	case DriverPlaywright:
		return launchPlaywright, nil
	case DriverRod:
		return launchRod, nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", driver)
	}
}

// Acquire launches a browser with the companion extension loaded and checks
// that it is the expected version. Launch failures wrap models.ErrStartup,
// version or driver mismatches wrap models.ErrEnvironmentMismatch. The
// returned session must be released with Release.
func Acquire(ctx context.Context, opts Options) (Session, error) {
	launch, err := launcherFor(opts.Driver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStartup, err)
	}
	return acquire(ctx, opts, launch)
}

func acquire(ctx context.Context, opts Options, launch launchFunc) (Session, error) {
	if opts.Driver == "" {
		opts.Driver = DriverChromedp
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = time.Minute
	}
	if opts.ExtensionPath != "" {
		if _, err := os.Stat(opts.ExtensionPath); err != nil {
			return nil, fmt.Errorf("%w: extension path: %v", models.ErrStartup, err)
		}
	}

	profileDir := opts.ProfileDir
	ephemeral := profileDir == ""
	if ephemeral {
		dir, err := os.MkdirTemp("", "harvester-profile-*")
		if err != nil {
			return nil, fmt.Errorf("%w: create profile dir: %v", models.ErrStartup, err)
		}
		profileDir = dir
	}

	s := &session{
		driver:     opts.Driver,
		profileDir: profileDir,
		ephemeral:  ephemeral,
	}

	b, err := launch(ctx, opts, profileDir)
	if err != nil {
		_ = s.Close()
		if errors.Is(err, models.ErrEnvironmentMismatch) || errors.Is(err, models.ErrStartup) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", models.ErrStartup, opts.Driver, err)
	}
	s.backend = b

	versionCtx, cancel := context.WithTimeout(ctx, opts.StartupTimeout)
	defer cancel()
	var userAgent string
	if err := b.evaluate(versionCtx, "navigator.userAgent", &userAgent); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: read browser version: %v", models.ErrStartup, err)
	}
	s.version = FullVersion(userAgent)

	if err := CheckVersion(userAgent, opts.MajorVersion); err != nil {
		_ = s.Close()
		return nil, err
	}

	slog.Info("Browser session started", "driver", s.driver, "version", s.version, "profile", profileDir, "ephemeral", ephemeral)
	return s, nil
}

// Release closes the session and everything it owns. Safe to call more
// than once and with a nil session.
func Release(s Session) error {
	if s == nil {
		return nil
	}
	return s.Close()
}

var versionRegex = regexp.MustCompile(`(?:HeadlessChrome|Chromium|Chrome)/((\d+)[\d.]*)`)

// FullVersion returns the browser version embedded in a user agent, e.g.
// "126.0.6478.126", or "" when none is found.
func FullVersion(userAgent string) string {
	m := versionRegex.FindStringSubmatch(userAgent)
	if m == nil {
		return ""
	}
	return m[1]
}

// MajorVersion returns the major browser version from a user agent.
func MajorVersion(userAgent string) string {
	m := versionRegex.FindStringSubmatch(userAgent)
	if m == nil {
		return ""
	}
	return m[2]
}

// CheckVersion compares the browser's major version with the expected one.
// An empty want disables the check.
func CheckVersion(userAgent, want string) error {
	want = strings.TrimSpace(want)
	if want == "" {
		return nil
	}
	got := MajorVersion(userAgent)
	if got == "" {
		return fmt.Errorf("%w: cannot read browser version from user agent %q", models.ErrEnvironmentMismatch, userAgent)
	}
	if got != want {
		return fmt.Errorf("%w: browser major version %s, expected %s", models.ErrEnvironmentMismatch, got, want)
	}
	return nil
}

type session struct {
	backend    backend
	driver     string
	version    string
	profileDir string
	ephemeral  bool

	closeOnce sync.Once
	closeErr  error
}

func (s *session) Navigate(ctx context.Context, url string) error {
	return s.backend.navigate(ctx, url)
}

func (s *session) Evaluate(ctx context.Context, script string, out any) error {
	return s.backend.evaluate(ctx, script, out)
}

func (s *session) HTML(ctx context.Context) (string, error) {
	return s.backend.html(ctx)
}

func (s *session) Title(ctx context.Context) (string, error) {
	return s.backend.title(ctx)
}

func (s *session) Driver() string     { return s.driver }
func (s *session) Version() string    { return s.version }
func (s *session) ProfileDir() string { return s.profileDir }

// Close shuts the browser down, kills any process still holding the profile
// directory and removes an ephemeral profile.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.backend != nil {
			if err := s.backend.close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.driver, err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if n := reapProfileProcesses(ctx, s.profileDir); n > 0 {
			slog.Warn("Killed leftover browser processes", "profile", s.profileDir, "count", n)
		}

		if s.ephemeral {
			if err := os.RemoveAll(s.profileDir); err != nil {
				errs = append(errs, fmt.Errorf("remove profile dir: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
		slog.Debug("Browser session released", "driver", s.driver, "profile", s.profileDir)
	})
	return s.closeErr
}

// extensionArgs are the Chromium switches that load the unpacked extension.
func extensionArgs(path string) []string {
	if path == "" {
		return nil
	}
	return []string{
		"--disable-extensions-except=" + path,
		"--load-extension=" + path,
	}
}

// bindContext derives a context from the long-lived browser context that is
// also cancelled when the caller's context ends.
func bindContext(browserCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(browserCtx)
	stop := context.AfterFunc(callerCtx, cancel)
	if deadline, ok := callerCtx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		return ctx, func() {
			stop()
			cancelDeadline()
			cancel()
		}
	}
	return ctx, func() {
		stop()
		cancel()
	}
}

// remaining converts a context deadline into a timeout for APIs that do not
// accept a context.
func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return fallback
}
