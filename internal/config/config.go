package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Browser
	Driver              string
	BrowserPath         string
	BrowserMajorVersion string
	ProfileDir          string
	ExtensionPath       string
	Headless            bool
	StartupTimeout      time.Duration

	// Extension bridge
	HandshakeTimeout time.Duration
	ExpansionTimeout time.Duration
	ExtensionExport  bool

	// Pagination
	SettleTimeout      time.Duration
	SettlePollInterval time.Duration
	StallCycles        int
	MaxAttempts        int
	MinComments        int
	PageLoadInterval   time.Duration

	// Run
	Workers           int
	TargetsFile       string
	OutputDir         string
	AnonymizeOutput   bool
	Resume            bool
	CheckReachability bool
	AllowedDomains    []string

	// Optional sinks
	ProjectID         string
	MirrorMaxVideos   int
	SummaryWebhookURL string
	Port              string

	// Logging
	LogFormat string
	LogLevel  string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	driver := strings.ToLower(envOr("BROWSER_DRIVER", "chromedp"))
	switch driver {
	case "chromedp", "playwright", "rod":
	default:
		return nil, fmt.Errorf("invalid BROWSER_DRIVER %q: use chromedp, playwright or rod", driver)
	}

	extensionPath := os.Getenv("EXTENSION_PATH")
	if extensionPath == "" {
		slog.Warn("EXTENSION_PATH not set, the companion extension will not be loaded")
	}

	cfg := &Config{
		Driver:              driver,
		BrowserPath:         os.Getenv("BROWSER_PATH"),
		BrowserMajorVersion: os.Getenv("BROWSER_MAJOR_VERSION"),
		ProfileDir:          os.Getenv("PROFILE_DIR"),
		ExtensionPath:       extensionPath,
		TargetsFile:         os.Getenv("TARGETS_FILE"),
		OutputDir:           envOr("OUTPUT_DIR", "processed-json-comment-files"),
		ProjectID:           os.Getenv("GOOGLE_CLOUD_PROJECT"),
		SummaryWebhookURL:   os.Getenv("SUMMARY_WEBHOOK_URL"),
		Port:                envOr("PORT", "8080"),
		LogFormat:           strings.ToLower(envOr("LOG_FORMAT", "text")),
		LogLevel:            strings.ToLower(envOr("LOG_LEVEL", "info")),
		AllowedDomains:      []string{"www.youtube.com", "youtube.com", "m.youtube.com", "youtu.be"},
	}

	var err error
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"STARTUP_TIMEOUT", "60s", &cfg.StartupTimeout},
		{"BRIDGE_HANDSHAKE_TIMEOUT", "20s", &cfg.HandshakeTimeout},
		{"EXPANSION_TIMEOUT", "30s", &cfg.ExpansionTimeout},
		{"SETTLE_TIMEOUT", "10s", &cfg.SettleTimeout},
		{"SETTLE_POLL_INTERVAL", "500ms", &cfg.SettlePollInterval},
		{"PAGE_LOAD_INTERVAL", "2s", &cfg.PageLoadInterval},
	}
	for _, d := range durations {
		raw := envOr(d.key, d.def)
		if *d.dest, err = time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.key, raw, err)
		}
	}

	ints := []struct {
		key  string
		def  int
		min  int
		dest *int
	}{
		{"WORKERS", 1, 1, &cfg.Workers},
		{"STALL_CYCLES", 1, 1, &cfg.StallCycles},
		{"MAX_ATTEMPTS", 50, 1, &cfg.MaxAttempts},
		{"MIN_COMMENTS", 0, 0, &cfg.MinComments},
		{"FIRESTORE_MAX_VIDEOS", 0, 0, &cfg.MirrorMaxVideos},
	}
	for _, i := range ints {
		*i.dest = i.def
		if v := os.Getenv(i.key); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q: %w", i.key, v, err)
			}
			if parsed < i.min {
				return nil, fmt.Errorf("invalid %s %d: must be at least %d", i.key, parsed, i.min)
			}
			*i.dest = parsed
		}
	}

	bools := []struct {
		key  string
		def  bool
		dest *bool
	}{
		{"HEADLESS", false, &cfg.Headless},
		{"EXTENSION_EXPORT", false, &cfg.ExtensionExport},
		{"ANONYMIZE_OUTPUT", false, &cfg.AnonymizeOutput},
		{"RESUME", true, &cfg.Resume},
		{"CHECK_REACHABILITY", true, &cfg.CheckReachability},
	}
	for _, b := range bools {
		*b.dest = b.def
		if v := os.Getenv(b.key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q: %w", b.key, v, err)
			}
			*b.dest = parsed
		}
	}

	if cfg.ProfileDir != "" && cfg.Workers > 1 {
		return nil, fmt.Errorf("PROFILE_DIR cannot be shared by %d workers: unset it or use WORKERS=1", cfg.Workers)
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: use text or json", cfg.LogFormat)
	}

	return cfg, nil
}

// Level maps LogLevel to a slog level, defaulting to Info.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
