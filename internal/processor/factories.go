package processor

import (
	"context"

	"github.com/pauljones0/comment-harvester/internal/bridge"
	"github.com/pauljones0/comment-harvester/internal/browser"
	"github.com/pauljones0/comment-harvester/internal/harvest"
)

// BrowserFactory launches real browsers with fixed options.
type BrowserFactory struct {
	Options browser.Options
}

func (f BrowserFactory) Acquire(ctx context.Context) (browser.Session, error) {
	return browser.Acquire(ctx, f.Options)
}

// BridgeFactory opens lazily connecting extension bridges.
type BridgeFactory struct {
	Options bridge.Options
}

func (f BridgeFactory) NewExpander(page browser.Page) harvest.Expander {
	return bridge.New(page, f.Options)
}
