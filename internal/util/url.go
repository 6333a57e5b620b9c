package util

import (
	"net/url"
	"regexp"
	"strings"
)

var videoIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// CanonicalWatchURL returns the standard watch URL for a video id.
func CanonicalWatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// NormalizeVideoURL maps watch, shorts and youtu.be links to the canonical
// watch URL and returns the video id. ok is false for anything that is not
// a recognizable video link.
func NormalizeVideoURL(rawURL string) (canonical, videoID string, ok bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", "", false
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", "", false
	}

	host := strings.ToLower(parsedURL.Hostname())
	path := strings.TrimPrefix(parsedURL.Path, "/")

	switch {
	case host == "youtu.be":
		videoID, _, _ = strings.Cut(path, "/")
	case host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		switch {
		case path == "watch" || strings.HasPrefix(path, "watch/"):
			videoID = parsedURL.Query().Get("v")
		case strings.HasPrefix(path, "shorts/"):
			videoID, _, _ = strings.Cut(strings.TrimPrefix(path, "shorts/"), "/")
		default:
			return "", "", false
		}
	default:
		return "", "", false
	}

	if !videoIDRegex.MatchString(videoID) {
		return "", "", false
	}
	return CanonicalWatchURL(videoID), videoID, true
}
