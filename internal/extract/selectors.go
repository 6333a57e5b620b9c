package extract

import (
	"encoding/json"
	"fmt"
	"os"
)

type SelectorConfig struct {
	Comments CommentSelectors `json:"comments"`
}

type CommentSelectors struct {
	Container CommentContainer `json:"container"`
	Elements  CommentElements  `json:"elements"`
}

type CommentContainer struct {
	Thread     string `json:"thread"`      // e.g., "ytd-comment-thread-renderer"
	Comment    string `json:"comment"`     // every comment node, top-level or reply
	ReplyScope string `json:"reply_scope"` // ancestor that marks a node as a reply
	IDAttr     string `json:"id_attr"`     // attribute carrying a stable id, if the page sets one
}

type CommentElements struct {
	Author         string `json:"author"`
	AuthorFallback string `json:"author_fallback"`
	Text           string `json:"text"`
	Published      string `json:"published"`
	LikeCount      string `json:"like_count"`
	ReplyCount     string `json:"reply_count"`
}

// LoadSelectors loads the selector configuration from the specified JSON file.
func LoadSelectors(path string) (SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to read selector config file: %w", err)
	}

	return LoadSelectorsFromBytes(data)
}

// LoadSelectorsFromBytes parses selector configuration from raw JSON bytes.
// This supports loading from embedded data via go:embed.
func LoadSelectorsFromBytes(data []byte) (SelectorConfig, error) {
	var config SelectorConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to parse selector config JSON: %w", err)
	}
	if config.Comments.Container.Comment == "" {
		return SelectorConfig{}, fmt.Errorf("selector config is missing comments.container.comment")
	}

	return config, nil
}

// DefaultSelectors returns the fallback configuration if no JSON file is loaded.
// The embedded selectors.json should be preferred.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		Comments: CommentSelectors{
			Container: CommentContainer{
				Thread:     "ytd-comment-thread-renderer",
				Comment:    "ytd-comment-view-model, ytd-comment-renderer",
				ReplyScope: "ytd-comment-replies-renderer",
				IDAttr:     "data-comment-id",
			},
			Elements: CommentElements{
				Author:         "#author-text",
				AuthorFallback: "#header-author a",
				Text:           "#content-text",
				Published:      "#published-time-text a",
				LikeCount:      "#vote-count-middle",
				ReplyCount:     "#more-replies",
			},
		},
	}
}
