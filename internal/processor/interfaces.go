package processor

import (
	"context"

	"github.com/pauljones0/comment-harvester/internal/browser"
	"github.com/pauljones0/comment-harvester/internal/harvest"
	"github.com/pauljones0/comment-harvester/internal/models"
)

// SessionFactory launches browser sessions.
type SessionFactory interface {
	Acquire(ctx context.Context) (browser.Session, error)
}

// ExpanderFactory opens the extension bridge for a page.
type ExpanderFactory interface {
	NewExpander(page browser.Page) harvest.Expander
}

// Harvester paginates one video.
type Harvester interface {
	Harvest(ctx context.Context, page harvest.Page, expander harvest.Expander, target models.VideoTarget) (*harvest.Session, error)
}

// ArtifactWriter persists artifacts.
type ArtifactWriter interface {
	Flush(target models.VideoTarget, artifact *models.OutputArtifact) (string, error)
	Completed(target models.VideoTarget) bool
}

// ArtifactMirror copies artifacts to a secondary store.
type ArtifactMirror interface {
	SaveArtifact(ctx context.Context, artifact *models.OutputArtifact) error
}

// SummaryNotifier reports a finished run.
type SummaryNotifier interface {
	SendSummary(ctx context.Context, summary *models.RunSummary) error
}
