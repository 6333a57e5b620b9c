package models

import "time"

// Termination reasons recorded in artifact metadata.
const (
	TerminationStalled       = "stalled"
	TerminationTargetReached = "target-reached"
	TerminationMaxAttempts   = "max-attempts"
	TerminationInterrupted   = "interrupted"
	TerminationBridgeFailed  = "bridge-unavailable"
	TerminationLoadFailed    = "load-failed"
)

// ArtifactMeta describes how an artifact was produced.
type ArtifactMeta struct {
	VideoID        string    `json:"video_id" firestore:"videoID" validate:"required"`
	URL            string    `json:"url" firestore:"url" validate:"required,url"`
	Title          string    `json:"title,omitempty" firestore:"title,omitempty"`
	ExtractedAt    time.Time `json:"extracted_at" firestore:"extractedAt" validate:"required"`
	TotalCount     int       `json:"total_count" firestore:"totalCount" validate:"gte=0"`
	Partial        bool      `json:"partial" firestore:"partial"`
	PartialReason  string    `json:"partial_reason,omitempty" firestore:"partialReason,omitempty"`
	Termination    string    `json:"termination,omitempty" firestore:"termination,omitempty"`
	Cycles         int       `json:"cycles" firestore:"cycles" validate:"gte=0"`
	SkippedNodes   int       `json:"skipped_nodes" firestore:"skippedNodes" validate:"gte=0"`
	Diagnostics    []string  `json:"diagnostics,omitempty" firestore:"diagnostics,omitempty"`
	RunID          string    `json:"run_id,omitempty" firestore:"runID,omitempty"`
	Driver         string    `json:"driver,omitempty" firestore:"driver,omitempty"`
	BrowserVersion string    `json:"browser_version,omitempty" firestore:"browserVersion,omitempty"`
}

// OutputArtifact is the persisted document for one video.
type OutputArtifact struct {
	Meta     ArtifactMeta    `json:"meta"`
	Comments []CommentRecord `json:"comments" validate:"dive"`
}
