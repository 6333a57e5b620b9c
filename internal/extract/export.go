package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pauljones0/comment-harvester/internal/models"
	"github.com/pauljones0/comment-harvester/internal/util"
)

var exportBlockRegex = regexp.MustCompile(`(?s)#####(.*?)#####`)

// ParseExport parses the companion extension's plain-text export. Each
// comment is a "#####"-delimited block:
//
//	[COMMENT]            (or [REPLY])
//	username
//	profile url
//	comment url
//	posted | like:N | reply:N   (optionally "(edited)")
//	body, possibly several lines
func ParseExport(text string) ([]models.CommentRecord, []Diagnostic) {
	var records []models.CommentRecord
	var diags []Diagnostic

	for i, m := range exportBlockRegex.FindAllStringSubmatch(text, -1) {
		c, err := parseExportBlock(m[1])
		if err != nil {
			diags = append(diags, Diagnostic{Node: i, Key: "export:" + strings.TrimSpace(m[1]), Reason: err.Error()})
			continue
		}
		records = append(records, c)
	}
	return records, diags
}

func parseExportBlock(block string) (models.CommentRecord, error) {
	var lines []string
	for _, l := range strings.Split(block, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return models.CommentRecord{}, fmt.Errorf("empty export block")
	}

	var depth int
	switch {
	case strings.Contains(lines[0], "[COMMENT]"):
	case strings.Contains(lines[0], "[REPLY]"):
		depth = 1
	default:
		return models.CommentRecord{}, fmt.Errorf("unrecognized export block header %q", lines[0])
	}
	if len(lines) < 5 {
		return models.CommentRecord{}, fmt.Errorf("export block has %d lines, want at least 5", len(lines))
	}

	c := models.CommentRecord{
		Author: lines[1],
		ID:     commentIDFromURL(lines[3]),
		Text:   strings.Join(lines[5:], "\n"),
	}
	if c.ID == "" {
		return models.CommentRecord{}, fmt.Errorf("export block for %s has no comment id in %q", c.Author, lines[3])
	}
	if profile := lines[2]; strings.HasPrefix(profile, "http") || strings.HasPrefix(profile, "/") {
		c.AuthorURL = absoluteURL(profile)
	}

	meta := lines[4]
	if strings.Contains(meta, "(edited)") {
		c.Edited = true
		meta = strings.TrimSpace(strings.ReplaceAll(meta, "(edited)", ""))
	}
	parts := strings.Split(meta, "|")
	c.Published = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		key, val, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok {
			continue
		}
		n, parsed := util.ParseCount(val)
		if !parsed {
			continue
		}
		switch key {
		case "like":
			c.LikeCount = models.IntPtr(n)
		case "reply":
			c.ReplyCount = models.IntPtr(n)
		}
	}

	if parent, _, found := strings.Cut(c.ID, "."); found {
		c.ParentID = parent
		depth = 1
	}
	c.Depth = models.IntPtr(depth)
	return c, nil
}
