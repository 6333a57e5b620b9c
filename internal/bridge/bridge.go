// Package bridge talks to the companion browser extension through
// window.postMessage. A small shim installed in the page records the
// extension's replies, and the Go side polls it.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pauljones0/comment-harvester/internal/config"
	"github.com/pauljones0/comment-harvester/internal/models"
)

// Message sources on the window.postMessage channel.
const (
	SourcePage      = "comment-harvester"
	SourceExtension = "comment-harvester-ext"
)

// Expansion scopes understood by the extension.
const (
	ScopeAll     = "all"
	ScopeReplies = "replies"
)

const (
	defaultPollInterval     = 250 * time.Millisecond
	defaultHandshakeTimeout = 20 * time.Second
	defaultExpansionTimeout = 30 * time.Second
)

// Page is the page capability the bridge needs.
type Page interface {
	Evaluate(ctx context.Context, script string, out any) error
}

// Options bounds every wait the bridge performs.
type Options struct {
	HandshakeTimeout time.Duration
	ExpansionTimeout time.Duration
	PollInterval     time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ExpansionTimeout: cfg.ExpansionTimeout,
		PollInterval:     cfg.SettlePollInterval,
	}
}

// Handle is a connected bridge bound to one page.
type Handle struct {
	page Page
	opts Options
	gen  string
	seq  int

	connectedOnce bool
}

// New returns a handle for page without contacting the extension. The
// handshake happens on first use, so the handle can be created before the
// page has navigated anywhere the extension runs.
func New(page Page, opts Options) *Handle {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.ExpansionTimeout <= 0 {
		opts.ExpansionTimeout = defaultExpansionTimeout
	}
	return &Handle{
		page: page,
		opts: opts,
		gen:  uuid.NewString(),
	}
}

// Connect installs the page shim and waits for the extension to answer a
// ping. It returns an error wrapping models.ErrBridgeUnavailable when the
// extension does not answer within the handshake timeout.
func Connect(ctx context.Context, page Page, opts Options) (*Handle, error) {
	h := New(page, opts)
	if err := h.handshake(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Expand asks the extension to expand collapsed threads and "read more"
// bodies in the given scope and waits for it to report completion. A slow
// extension yields models.ErrExpansionTimeout, which callers treat as
// non-fatal.
func (h *Handle) Expand(ctx context.Context, scope string) error {
	if err := h.ensure(ctx); err != nil {
		return err
	}

	id := h.nextID()
	if err := h.post(ctx, message{Type: "expand-request", ID: id, Scope: scope}); err != nil {
		return fmt.Errorf("%w: send expand request: %v", models.ErrBridgeUnavailable, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.opts.ExpansionTimeout)
	defer cancel()

	reconnected := false
	err := h.poll(waitCtx, func() (bool, error) {
		var ack struct {
			Present  bool `json:"present"`
			Found    bool `json:"found"`
			Expanded int  `json:"expanded"`
			Done     bool `json:"done"`
		}
		if err := h.page.Evaluate(waitCtx, ackScript(h.gen, id), &ack); err != nil {
			return false, nil
		}
		if !ack.Present {
			// The page navigated away underneath us. Reconnect once and
			// resend; the extension answers on the new shim.
			if reconnected {
				return false, fmt.Errorf("%w: page shim lost during expansion", models.ErrBridgeUnavailable)
			}
			reconnected = true
			if err := h.handshake(ctx); err != nil {
				return false, err
			}
			return false, h.post(ctx, message{Type: "expand-request", ID: id, Scope: scope})
		}
		if ack.Done {
			slog.Debug("Expansion complete", "scope", scope, "expanded", ack.Expanded)
		}
		return ack.Done, nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: scope %s after %s", models.ErrExpansionTimeout, scope, h.opts.ExpansionTimeout)
	}
	return err
}

// Export asks the extension for its plain-text export of every comment it
// has seen on the page.
func (h *Handle) Export(ctx context.Context) (string, error) {
	if err := h.ensure(ctx); err != nil {
		return "", err
	}

	id := h.nextID()
	if err := h.post(ctx, message{Type: "export-request", ID: id}); err != nil {
		return "", fmt.Errorf("%w: send export request: %v", models.ErrBridgeUnavailable, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.opts.ExpansionTimeout)
	defer cancel()

	var text string
	err := h.poll(waitCtx, func() (bool, error) {
		var reply struct {
			Present bool   `json:"present"`
			Found   bool   `json:"found"`
			Text    string `json:"text"`
		}
		if err := h.page.Evaluate(waitCtx, exportScript(h.gen, id), &reply); err != nil {
			return false, nil
		}
		if !reply.Present {
			return false, fmt.Errorf("%w: page shim lost during export", models.ErrBridgeUnavailable)
		}
		text = reply.Text
		return reply.Found, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("export: %w", err)
	}
	return text, nil
}

// Connected reports whether the shim is installed on the current document
// and the extension has answered it.
func (h *Handle) Connected(ctx context.Context) bool {
	var ok bool
	if err := h.page.Evaluate(ctx, pongScript(h.gen), &ok); err != nil {
		return false
	}
	return ok
}

// ensure re-establishes the bridge after a navigation wiped the shim.
func (h *Handle) ensure(ctx context.Context) error {
	if h.Connected(ctx) {
		return nil
	}
	if h.connectedOnce {
		slog.Info("Extension bridge lost, reconnecting")
	}
	return h.handshake(ctx)
}

func (h *Handle) handshake(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, h.opts.HandshakeTimeout)
	defer cancel()

	err := h.poll(waitCtx, func() (bool, error) {
		// The content script may attach after the page loads, so the shim
		// install and ping are repeated until it answers.
		if err := h.page.Evaluate(waitCtx, installScript(h.gen), nil); err != nil {
			return false, nil
		}
		if err := h.post(waitCtx, message{Type: "ping"}); err != nil {
			return false, nil
		}
		return h.Connected(waitCtx), nil
	})
	if err == nil {
		h.connectedOnce = true
		slog.Debug("Extension bridge connected", "generation", h.gen)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: no answer within %s", models.ErrBridgeUnavailable, h.opts.HandshakeTimeout)
}

// poll calls check every PollInterval until it reports done, fails, or ctx
// ends.
func (h *Handle) poll(ctx context.Context, check func() (bool, error)) error {
	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()

	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Handle) nextID() string {
	h.seq++
	return h.gen[:8] + "-" + strconv.Itoa(h.seq)
}

type message struct {
	Source string `json:"source"`
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Scope  string `json:"scope,omitempty"`
}

func (h *Handle) post(ctx context.Context, m message) error {
	m.Source = SourcePage
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return h.page.Evaluate(ctx, postScript(string(raw)), nil)
}
