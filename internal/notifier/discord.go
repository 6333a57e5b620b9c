// Package notifier posts run summaries to a Discord-compatible webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/pauljones0/comment-harvester/internal/models"
)

const (
	colorComplete = 3066993  // #2ECC71
	colorPartial  = 16753920 // #FFA500
	colorAborted  = 16711680 // #FF0000

	maxRetries       = 3
	maxListedVideos  = 10
	maxEmbedDescSize = 4000
)

type Client struct {
	webhookURL  string
	client      *http.Client
	rateLimiter *rate.Limiter
	backoffBase time.Duration
}

func New(webhookURL string) *Client {
	// Discord allows roughly 5 webhook requests per 2 seconds.
	return &Client{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		rateLimiter: rate.NewLimiter(rate.Every(400*time.Millisecond), 1),
		backoffBase: time.Second,
	}
}

// SendSummary posts the run summary. It does nothing when no webhook is
// configured.
func (c *Client) SendSummary(ctx context.Context, summary *models.RunSummary) error {
	if c.webhookURL == "" {
		return nil
	}
	id, err := c.send(ctx, formatSummaryToEmbed(summary))
	if err != nil {
		return err
	}
	slog.Info("Posted run summary", "run_id", summary.RunID, "message_id", id)
	return nil
}

// Internal structures
type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      discordEmbedFooter  `json:"footer,omitempty"`
}

type discordMessageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func formatSummaryToEmbed(s *models.RunSummary) discordEmbed {
	complete, partial, skipped := s.Counts()

	color := colorComplete
	switch {
	case s.Aborted != "":
		color = colorAborted
	case partial > 0 || skipped > 0:
		color = colorPartial
	}

	var lines []string
	for i, r := range s.Results {
		if i == maxListedVideos {
			lines = append(lines, fmt.Sprintf("…and %d more", len(s.Results)-maxListedVideos))
			break
		}
		name := r.Title
		if name == "" {
			name = r.VideoID
		}
		line := fmt.Sprintf("%s [%s](%s): %d comments", statusIcon(r.Status), name, r.URL, r.Comments)
		if r.Status != models.StatusComplete && r.Reason != "" {
			line += " (" + r.Reason + ")"
		}
		lines = append(lines, line)
	}
	if s.Aborted != "" {
		lines = append(lines, "", "**Run aborted:** "+s.Aborted)
	}
	description := strings.Join(lines, "\n")
	description = truncate(description, maxEmbedDescSize)

	duration := s.FinishedAt.Sub(s.StartedAt).Round(time.Second)

	return discordEmbed{
		Title:       "Comment harvest finished",
		Description: description,
		Timestamp:   s.FinishedAt.Format(time.RFC3339),
		Color:       color,
		Fields: []discordEmbedField{
			{Name: "Results", Value: fmt.Sprintf("✅ %d  ⚠️ %d  ⏭️ %d", complete, partial, skipped), Inline: true},
			{Name: "Comments", Value: strconv.Itoa(s.TotalComments()), Inline: true},
			{Name: "Duration", Value: duration.String(), Inline: true},
		},
		Footer: discordEmbedFooter{Text: "run " + s.RunID},
	}
}

func statusIcon(status string) string {
	switch status {
	case models.StatusComplete:
		return "✅"
	case models.StatusPartial:
		return "⚠️"
	default:
		return "⏭️"
	}
}

func (c *Client) send(ctx context.Context, embed discordEmbed) (string, error) {
	payload := discordWebhookPayload{Embeds: []discordEmbed{embed}}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	parsedURL, err := url.Parse(c.webhookURL)
	if err != nil {
		return "", err
	}
	q := parsedURL.Query()
	q.Set("wait", "true")
	parsedURL.RawQuery = q.Encode()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, "POST", parsedURL.String(), bytes.NewReader(payloadBytes))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if attempt == maxRetries {
				break
			}
			if !c.wait(ctx, c.backoffBase*time.Duration(1<<attempt)) {
				return "", ctx.Err()
			}
			continue
		}

		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			var msgResponse discordMessageResponse
			if err := json.Unmarshal(bodyBytes, &msgResponse); err != nil {
				return "", err
			}
			return msgResponse.ID, nil
		}

		lastErr = fmt.Errorf("webhook status: %s, body: %s", resp.Status, string(bodyBytes))
		backoff := retryBackoff(resp, attempt, c.backoffBase)
		if backoff == 0 {
			return "", lastErr
		}
		if attempt == maxRetries {
			break
		}
		slog.Warn("Webhook request failed, retrying", "status", resp.StatusCode, "attempt", attempt+1, "backoff", backoff)
		if !c.wait(ctx, backoff) {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("webhook failed after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// retryBackoff returns how long to wait before retrying resp, or 0 when
// the request should not be retried. Retry-After is honored as sent.
func retryBackoff(resp *http.Response, attempt int, base time.Duration) time.Duration {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		return base * time.Duration(1<<attempt)
	case resp.StatusCode >= 500:
		return base * time.Duration(1<<attempt)
	default:
		return 0
	}
}
