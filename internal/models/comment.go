package models

import "time"

// CommentRecord is one normalized comment as it appeared on a video page.
// Optional fields are pointers so a value the page did not render stays
// absent in the artifact instead of turning into a zero.
type CommentRecord struct {
	ID         string `json:"id" firestore:"id" validate:"required"`
	Author     string `json:"author" firestore:"author" validate:"required"`
	AuthorURL  string `json:"author_url,omitempty" firestore:"authorURL,omitempty" validate:"omitempty,url"`
	Text       string `json:"text" firestore:"text"`
	Published  string `json:"published,omitempty" firestore:"published,omitempty"` // As displayed, e.g. "3 days ago"
	Edited     bool   `json:"edited,omitempty" firestore:"edited,omitempty"`
	ParentID   string `json:"parent_id,omitempty" firestore:"parentID,omitempty"`
	Depth      *int   `json:"depth,omitempty" firestore:"depth,omitempty" validate:"omitempty,gte=0"`
	LikeCount  *int   `json:"like_count,omitempty" firestore:"likeCount,omitempty" validate:"omitempty,gte=0"`
	ReplyCount *int   `json:"reply_count,omitempty" firestore:"replyCount,omitempty" validate:"omitempty,gte=0"`
}

// Snapshot is a single read of the rendered page taken at the end of a
// pagination cycle.
type Snapshot struct {
	Cycle   int
	URL     string
	Title   string
	HTML    string
	Export  string // Plain-text export from the companion extension, if requested
	TakenAt time.Time
}

// IntPtr is a small helper for populating optional counters.
func IntPtr(v int) *int {
	return &v
}
