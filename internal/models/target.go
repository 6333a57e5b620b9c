package models

// VideoTarget identifies one video page to harvest.
type VideoTarget struct {
	VideoID     string `json:"video_id" yaml:"video_id"`
	URL         string `json:"url" yaml:"url"`
	MinComments int    `json:"min_comments,omitempty" yaml:"min_comments"` // 0 means no count target
	MaxAttempts int    `json:"max_attempts,omitempty" yaml:"max_attempts"` // 0 means use the configured default
	Index       int    `json:"-" yaml:"-"`                                 // 1-based position in the input list
}
