package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pauljones0/comment-harvester/internal/models"
)

// fakePage plays the part of the page shim and the extension's content
// script, keyed on what each script does.
type fakePage struct {
	mu sync.Mutex

	extension   bool // whether anything answers on the channel
	ackAfter    int  // ack polls before an expansion reports done
	exportText  string
	dropOnPolls int // wipe the shim once after this many ack polls

	installed     bool
	pong          bool
	pendingExpand bool
	pendingExport bool
	ackPolls      int
	installs      int
	posts         []string
}

func (f *fakePage) Evaluate(ctx context.Context, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp any
	switch {
	case strings.Contains(script, "addEventListener"):
		if !f.installed {
			f.installs++
		}
		f.installed = true
		resp = true
	case strings.Contains(script, "postMessage"):
		f.posts = append(f.posts, script)
		if f.installed && f.extension {
			switch {
			case strings.Contains(script, `"type":"ping"`):
				f.pong = true
			case strings.Contains(script, `"type":"expand-request"`):
				f.pendingExpand = true
				f.ackPolls = 0
			case strings.Contains(script, `"type":"export-request"`):
				f.pendingExport = true
			}
		}
		resp = true
	case strings.Contains(script, ".acks["):
		f.ackPolls++
		if f.dropOnPolls > 0 && f.ackPolls == f.dropOnPolls {
			f.dropOnPolls = 0
			f.navigate()
		}
		done := f.pendingExpand && f.ackPolls >= f.ackAfter
		resp = map[string]any{"present": f.installed, "found": f.pendingExpand, "expanded": 4, "done": done}
	case strings.Contains(script, ".exports["):
		resp = map[string]any{"present": f.installed, "found": f.pendingExport, "text": f.exportText}
	case strings.Contains(script, ".pong"):
		resp = f.installed && f.pong
	default:
		return errors.New("unexpected script")
	}

	if out == nil {
		return nil
	}
	raw, _ := json.Marshal(resp)
	return json.Unmarshal(raw, out)
}

// navigate simulates a document change wiping page state. Caller holds mu.
func (f *fakePage) navigate() {
	f.installed = false
	f.pong = false
	f.pendingExpand = false
	f.pendingExport = false
}

func testOptions() Options {
	return Options{
		HandshakeTimeout: 200 * time.Millisecond,
		ExpansionTimeout: 200 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
	}
}

func TestConnect(t *testing.T) {
	page := &fakePage{extension: true}

	h, err := Connect(context.Background(), page, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !h.Connected(context.Background()) {
		t.Error("Expected handle to report connected")
	}
	if !strings.Contains(page.posts[0], `"source":"comment-harvester"`) {
		t.Errorf("ping should carry the page source, got %s", page.posts[0])
	}
}

func TestConnect_NoExtension(t *testing.T) {
	page := &fakePage{extension: false}

	_, err := Connect(context.Background(), page, testOptions())
	if !errors.Is(err, models.ErrBridgeUnavailable) {
		t.Fatalf("Expected ErrBridgeUnavailable, got %v", err)
	}
}

func TestConnect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, &fakePage{extension: true}, testOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if errors.Is(err, models.ErrBridgeUnavailable) {
		t.Error("cancellation should not be reported as a bridge failure")
	}
}

func TestExpand(t *testing.T) {
	page := &fakePage{extension: true, ackAfter: 3}

	h, err := Connect(context.Background(), page, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := h.Expand(context.Background(), ScopeAll); err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	last := page.posts[len(page.posts)-1]
	if !strings.Contains(last, `"scope":"all"`) {
		t.Errorf("expand request should carry the scope, got %s", last)
	}
}

func TestExpand_Timeout(t *testing.T) {
	page := &fakePage{extension: true, ackAfter: 1 << 30}

	h, err := Connect(context.Background(), page, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	err = h.Expand(context.Background(), ScopeReplies)
	if !errors.Is(err, models.ErrExpansionTimeout) {
		t.Fatalf("Expected ErrExpansionTimeout, got %v", err)
	}
	if models.IsEnvironmentFatal(err) {
		t.Error("expansion timeout must not be environment fatal")
	}
}

func TestExpand_ReconnectsAfterNavigation(t *testing.T) {
	page := &fakePage{extension: true, ackAfter: 1}

	h, err := Connect(context.Background(), page, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	page.mu.Lock()
	page.navigate()
	page.mu.Unlock()

	if err := h.Expand(context.Background(), ScopeAll); err != nil {
		t.Fatalf("Expand() after navigation error = %v", err)
	}
	if page.installs != 2 {
		t.Errorf("Expected shim to be installed twice, got %d", page.installs)
	}
}

func TestExpand_ShimLostMidExpansion(t *testing.T) {
	page := &fakePage{extension: true, ackAfter: 3, dropOnPolls: 1}

	h, err := Connect(context.Background(), page, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := h.Expand(context.Background(), ScopeAll); err != nil {
		t.Fatalf("Expand() should recover from a single navigation, got %v", err)
	}
}

func TestExpand_ExtensionGone(t *testing.T) {
	page := &fakePage{extension: true}

	h, err := Connect(context.Background(), page, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	page.mu.Lock()
	page.extension = false
	page.navigate()
	page.mu.Unlock()

	err = h.Expand(context.Background(), ScopeAll)
	if !errors.Is(err, models.ErrBridgeUnavailable) {
		t.Fatalf("Expected ErrBridgeUnavailable, got %v", err)
	}
}

func TestExport(t *testing.T) {
	page := &fakePage{extension: true, exportText: "#####\n[COMMENT]\n#####"}

	h, err := Connect(context.Background(), page, testOptions())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	text, err := h.Export(context.Background())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if text != page.exportText {
		t.Errorf("Export() = %q, want %q", text, page.exportText)
	}
}

func TestScriptsQuoteInput(t *testing.T) {
	s := ackScript(`a"b`, `</script>`)
	if !strings.Contains(s, `"a\"b"`) {
		t.Errorf("generation should be a quoted JS string: %s", s)
	}
	if strings.Contains(s, "</script>") {
		t.Errorf("id should be escaped: %s", s)
	}
}

func TestNew_HandshakesOnFirstUse(t *testing.T) {
	page := &fakePage{extension: true, ackAfter: 1}
	h := New(page, testOptions())

	if page.installs != 0 {
		t.Fatal("New should not touch the page")
	}
	if err := h.Expand(context.Background(), ScopeAll); err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if page.installs != 1 {
		t.Errorf("Expected one shim install, got %d", page.installs)
	}
}
