//go:build integration

package browser

import (
	"context"
	"os"
	"testing"
	"time"
)

// Needs a local Chrome. Run with: go test -tags integration ./internal/browser/
func TestAcquireChromedp_Integration(t *testing.T) {
	opts := Options{
		Driver:         DriverChromedp,
		BrowserPath:    os.Getenv("BROWSER_PATH"),
		Headless:       true,
		StartupTimeout: 60 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s, err := Acquire(ctx, opts)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer Release(s)

	if err := s.Navigate(ctx, "data:text/html,<title>hello</title><p>x</p>"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	title, err := s.Title(ctx)
	if err != nil || title != "hello" {
		t.Errorf("Title() = %q, %v", title, err)
	}
	var n int
	if err := s.Evaluate(ctx, "document.querySelectorAll('p').length", &n); err != nil || n != 1 {
		t.Errorf("Evaluate() = %d, %v", n, err)
	}
}
