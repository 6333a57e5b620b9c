package models

import "time"

// Per-video outcomes in a run summary.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusSkipped  = "skipped"
)

// VideoResult is how one target ended.
type VideoResult struct {
	VideoID  string        `json:"video_id"`
	URL      string        `json:"url"`
	Title    string        `json:"title,omitempty"`
	Status   string        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Path     string        `json:"path,omitempty"`
	Comments int           `json:"comments"`
	Duration time.Duration `json:"duration"`
}

// RunSummary is reported once at the end of a run.
type RunSummary struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	InputSkipped int           `json:"input_skipped"` // Malformed, duplicate or unreachable inputs
	Results      []VideoResult `json:"results"`
	Aborted      string        `json:"aborted,omitempty"`
}

// Counts tallies results by status.
func (s *RunSummary) Counts() (complete, partial, skipped int) {
	for _, r := range s.Results {
		switch r.Status {
		case StatusComplete:
			complete++
		case StatusPartial:
			partial++
		default:
			skipped++
		}
	}
	return complete, partial, skipped
}

// TotalComments is the number of comments written across all artifacts.
func (s *RunSummary) TotalComments() int {
	total := 0
	for _, r := range s.Results {
		total += r.Comments
	}
	return total
}
