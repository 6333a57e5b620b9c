package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pauljones0/comment-harvester/internal/models"
)

const sampleExport = `#####
[COMMENT]
@alice
https://www.youtube.com/@alice
https://www.youtube.com/watch?v=cpcfdwnf4M8&lc=UgzA1
2 days ago (edited) | like:15 | reply:2
Great video
second line
#####
#####
[REPLY]
@bob
https://www.youtube.com/@bob
https://www.youtube.com/watch?v=cpcfdwnf4M8&lc=UgzA1.Rep1
1 day ago | like:0
thanks
#####
#####
[COMMENT]
@broken
#####`

func TestParseExport(t *testing.T) {
	records, diags := ParseExport(sampleExport)

	want := []models.CommentRecord{
		{
			ID: "UgzA1", Author: "@alice", AuthorURL: "https://www.youtube.com/@alice",
			Text: "Great video\nsecond line", Published: "2 days ago", Edited: true,
			Depth: models.IntPtr(0), LikeCount: models.IntPtr(15), ReplyCount: models.IntPtr(2),
		},
		{
			ID: "UgzA1.Rep1", Author: "@bob", AuthorURL: "https://www.youtube.com/@bob",
			Text: "thanks", Published: "1 day ago", ParentID: "UgzA1",
			Depth: models.IntPtr(1), LikeCount: models.IntPtr(0),
		},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("ParseExport() mismatch (-want +got):\n%s", diff)
	}
	if len(diags) != 1 {
		t.Fatalf("Expected 1 diagnostic for the truncated block, got %v", diags)
	}
	if diags[0].Node != 2 {
		t.Errorf("Diagnostic node = %d, want 2", diags[0].Node)
	}
}

func TestParseExport_UnknownHeader(t *testing.T) {
	records, diags := ParseExport("#####\n[AD]\nbuy now\n#####")
	if len(records) != 0 {
		t.Errorf("Expected no records, got %d", len(records))
	}
	if len(diags) != 1 {
		t.Errorf("Expected 1 diagnostic, got %d", len(diags))
	}
}

func TestParseExport_Empty(t *testing.T) {
	records, diags := ParseExport("")
	if len(records) != 0 || len(diags) != 0 {
		t.Errorf("empty export should yield nothing")
	}
}
