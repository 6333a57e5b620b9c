// Package extract turns rendered comment sections into normalized
// CommentRecords.
package extract

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pauljones0/comment-harvester/internal/models"
	"github.com/pauljones0/comment-harvester/internal/util"
	"github.com/pauljones0/comment-harvester/internal/validator"
)

const siteBaseURL = "https://www.youtube.com"

var siteBase, _ = url.Parse(siteBaseURL + "/")

// Diagnostic explains why a node was skipped. Key identifies the node
// across snapshots of the same page; it is empty when nothing stable is
// known about the node.
type Diagnostic struct {
	Cycle  int
	Node   int
	Key    string
	Reason string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("cycle %d node %d: %s", d.Cycle, d.Node, d.Reason)
}

type Extractor struct {
	selectors SelectorConfig
	validator *validator.Validator
}

func New(selectors SelectorConfig) *Extractor {
	return &Extractor{selectors: selectors, validator: validator.New()}
}

// CommentSelector is the CSS selector matching every comment node. The
// pagination controller counts these to decide when the page has settled.
func (e *Extractor) CommentSelector() string {
	return e.selectors.Comments.Container.Comment
}

// Extract parses every comment node in the snapshot. Nodes that cannot be
// turned into a record are skipped and reported as diagnostics; an
// unparseable document yields no records and a single diagnostic.
func (e *Extractor) Extract(snap models.Snapshot) ([]models.CommentRecord, []Diagnostic) {
	var records []models.CommentRecord
	var diags []Diagnostic

	if strings.TrimSpace(snap.HTML) != "" {
		r, d := e.extractHTML(snap)
		records = append(records, r...)
		diags = append(diags, d...)
	}

	if snap.Export != "" {
		r, d := ParseExport(snap.Export)
		for i := range d {
			d[i].Cycle = snap.Cycle
		}
		records = append(records, r...)
		diags = append(diags, d...)
	}

	records, invalid := e.validRecords(records, snap.Cycle)
	diags = append(diags, invalid...)

	for _, d := range diags {
		slog.Warn("Skipped comment node", "url", snap.URL, "cycle", d.Cycle, "node", d.Node, "reason", d.Reason)
	}
	return records, diags
}

func (e *Extractor) extractHTML(snap models.Snapshot) ([]models.CommentRecord, []Diagnostic) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, []Diagnostic{{Cycle: snap.Cycle, Reason: fmt.Sprintf("failed to parse snapshot HTML: %v", err)}}
	}

	container := e.selectors.Comments.Container
	elements := e.selectors.Comments.Elements

	var records []models.CommentRecord
	var diags []Diagnostic

	doc.Find(container.Comment).Each(func(i int, s *goquery.Selection) {
		var c models.CommentRecord

		skip := func(reason string) {
			key := c.ID
			if key == "" {
				key = "text:" + strings.Join(strings.Fields(s.Text()), " ")
			}
			diags = append(diags, Diagnostic{Cycle: snap.Cycle, Node: i, Key: key, Reason: reason})
		}

		// 1. Identity
		publishedLink := s.Find(elements.Published).First()
		if container.IDAttr != "" {
			if id, ok := s.Attr(container.IDAttr); ok {
				c.ID = strings.TrimSpace(id)
			}
		}
		if c.ID == "" {
			if href, ok := publishedLink.Attr("href"); ok {
				c.ID = commentIDFromURL(href)
			}
		}
		if c.ID == "" {
			skip("no comment id")
			return
		}

		// 2. Author
		authorSelection := s.Find(elements.Author).First()
		if authorSelection.Length() == 0 && elements.AuthorFallback != "" {
			authorSelection = s.Find(elements.AuthorFallback).First()
		}
		c.Author = strings.TrimSpace(authorSelection.Text())
		if c.Author == "" {
			skip(fmt.Sprintf("comment %s has no author", c.ID))
			return
		}
		if href, ok := authorSelection.Attr("href"); ok {
			c.AuthorURL = absoluteURL(href)
		}

		// 3. Body
		textSelection := s.Find(elements.Text).First()
		if textSelection.Length() == 0 {
			skip(fmt.Sprintf("comment %s has no text element", c.ID))
			return
		}
		c.Text = strings.TrimSpace(textSelection.Text())

		// 4. Published time, as displayed
		c.Published, c.Edited = splitEdited(strings.TrimSpace(publishedLink.Text()))

		// 5. Thread position
		isReply := container.ReplyScope != "" && s.ParentsFiltered(container.ReplyScope).Length() > 0
		if parent, _, found := strings.Cut(c.ID, "."); found {
			c.ParentID = parent
			isReply = true
		} else if isReply && container.Thread != "" {
			first := s.Closest(container.Thread).Find(container.Comment).First()
			if first.Length() > 0 && !first.IsSelection(s) {
				if href, ok := first.Find(elements.Published).First().Attr("href"); ok {
					c.ParentID = commentIDFromURL(href)
				}
			}
		}
		if isReply {
			c.Depth = models.IntPtr(1)
		} else {
			c.Depth = models.IntPtr(0)
		}

		// 6. Like count (blank when zero or hidden, so absent)
		if n, ok := util.ParseCount(firstField(s.Find(elements.LikeCount).First().Text())); ok {
			c.LikeCount = models.IntPtr(n)
		}

		// 7. Reply count, top-level only
		if !isReply && elements.ReplyCount != "" && container.Thread != "" {
			replies := s.Closest(container.Thread).Find(elements.ReplyCount).First()
			if n, ok := util.ParseCount(firstField(replies.Text())); ok {
				c.ReplyCount = models.IntPtr(n)
			}
		}

		records = append(records, c)
	})

	return records, diags
}

// commentIDFromURL pulls the comment id from a permalink such as
// "/watch?v=abc&lc=UgzX.Ugy1".
func commentIDFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Query().Get("lc")
}

// validRecords keeps the records that pass struct validation. A record
// whose only problem is its author URL keeps everything else.
func (e *Extractor) validRecords(records []models.CommentRecord, cycle int) ([]models.CommentRecord, []Diagnostic) {
	var diags []Diagnostic
	kept := records[:0]
	for i, c := range records {
		err := e.validator.ValidateStruct(c)
		if err != nil && c.AuthorURL != "" {
			slog.Debug("Dropping invalid author URL", "comment", c.ID, "author_url", c.AuthorURL)
			c.AuthorURL = ""
			err = e.validator.ValidateStruct(c)
		}
		if err != nil {
			diags = append(diags, Diagnostic{Cycle: cycle, Node: i, Key: c.ID, Reason: fmt.Sprintf("comment %s: %v", c.ID, err)})
			continue
		}
		kept = append(kept, c)
	}
	return kept, diags
}

// absoluteURL resolves href against the site root. Anything that does not
// end up as an http(s) URL yields "".
func absoluteURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	u := siteBase.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func splitEdited(published string) (string, bool) {
	if !strings.Contains(published, "(edited)") {
		return published, false
	}
	return strings.TrimSpace(strings.ReplaceAll(published, "(edited)", "")), true
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
