package harvest

import (
	"time"

	"github.com/pauljones0/comment-harvester/internal/dedup"
	"github.com/pauljones0/comment-harvester/internal/extract"
	"github.com/pauljones0/comment-harvester/internal/models"
)

// Session is the state of one video's harvest. It belongs to exactly one
// worker and is never reused for another video.
type Session struct {
	Target      models.VideoTarget
	Title       string
	Cycle       int
	Stalls      int
	Accumulator *dedup.Accumulator
	Skipped     int
	Diagnostics []string
	Termination string
	Interrupted bool
	StartedAt   time.Time

	skippedKeys map[string]struct{}
}

// NewSession starts an empty session for target.
func NewSession(target models.VideoTarget) *Session {
	return &Session{
		Target:      target,
		Accumulator: dedup.New(),
		StartedAt:   time.Now(),
		skippedKeys: make(map[string]struct{}),
	}
}

// NewFailedSession returns an empty session for a target that could not be
// harvested at all, so it can still be flushed as a partial artifact.
func NewFailedSession(target models.VideoTarget, termination, reason string) *Session {
	s := NewSession(target)
	s.Termination = termination
	s.note(reason)
	return s
}

func (s *Session) interrupt() {
	s.Interrupted = true
	s.Termination = models.TerminationInterrupted
}

func (s *Session) note(msg string) {
	if len(s.Diagnostics) < maxDiagnostics {
		s.Diagnostics = append(s.Diagnostics, msg)
	}
}

// skip counts d unless a node with the same key was already skipped in an
// earlier cycle. Diagnostics without a key always count.
func (s *Session) skip(d extract.Diagnostic) {
	if d.Key != "" {
		if _, seen := s.skippedKeys[d.Key]; seen {
			return
		}
		s.skippedKeys[d.Key] = struct{}{}
	}
	s.Skipped++
	s.note(d.String())
}

// Partial reports whether the session ended before pagination finished.
func (s *Session) Partial() bool {
	switch s.Termination {
	case models.TerminationStalled, models.TerminationTargetReached, models.TerminationMaxAttempts:
		return s.Interrupted
	default:
		return true
	}
}

// Artifact builds the output document for this session. Run-level fields
// (run id, driver, browser version) are left for the caller.
func (s *Session) Artifact(extractedAt time.Time) *models.OutputArtifact {
	comments := s.Accumulator.Records()
	a := &models.OutputArtifact{
		Meta: models.ArtifactMeta{
			VideoID:      s.Target.VideoID,
			URL:          s.Target.URL,
			Title:        s.Title,
			ExtractedAt:  extractedAt,
			TotalCount:   len(comments),
			Termination:  s.Termination,
			Cycles:       s.Cycle,
			SkippedNodes: s.Skipped,
			Diagnostics:  s.Diagnostics,
		},
		Comments: comments,
	}
	if s.Partial() {
		a.Meta.Partial = true
		a.Meta.PartialReason = s.Termination
		if a.Meta.PartialReason == "" {
			a.Meta.PartialReason = "unfinished"
		}
	}
	return a
}
