// Package dedup folds comment records seen across pagination cycles into one
// duplicate-free, insertion-ordered set.
package dedup

import "github.com/pauljones0/comment-harvester/internal/models"

// Accumulator holds the records of a single video. It is not safe for
// concurrent use; each video owns its own accumulator.
type Accumulator struct {
	order []string
	byID  map[string]models.CommentRecord
}

func New() *Accumulator {
	return &Accumulator{byID: make(map[string]models.CommentRecord)}
}

// Fold inserts every record whose id has not been seen yet and returns how
// many were added. The first-seen instance of an id wins; attributes of
// later duplicates are discarded, not merged.
func (a *Accumulator) Fold(records []models.CommentRecord) int {
	added := 0
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		if _, exists := a.byID[r.ID]; exists {
			continue
		}
		a.byID[r.ID] = r
		a.order = append(a.order, r.ID)
		added++
	}
	return added
}

// Len returns the number of distinct records.
func (a *Accumulator) Len() int {
	return len(a.order)
}

// Has reports whether id has been folded.
func (a *Accumulator) Has(id string) bool {
	_, ok := a.byID[id]
	return ok
}

// Records returns the accumulated records in first-seen order. The slice is
// a copy and never nil.
func (a *Accumulator) Records() []models.CommentRecord {
	out := make([]models.CommentRecord, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.byID[id])
	}
	return out
}

// Stalled reports whether a cycle added nothing new.
func Stalled(beforeCount, afterCount int) bool {
	return afterCount <= beforeCount
}
