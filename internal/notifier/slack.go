package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/careerscan/internal/model"
)

// Ensure SlackNotifier implements model.Notifier.
var _ model.Notifier = (*SlackNotifier)(nil)

// PostingLister loads the postings a run created.
type PostingLister interface {
	Postings(ctx context.Context, runID string) ([]model.JobPosting, error)
}

// maxSlackPostings caps per-posting messages after one run.
const maxSlackPostings = 10

// SlackNotifier posts a run summary, followed by one message per recommended
// new posting, to a Slack channel via Incoming Webhooks.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	postings   PostingLister
	logger     *slog.Logger
	spacing    time.Duration
}

// NewSlackNotifier returns a Slack notifier. postings may be nil, in which
// case only the summary is sent.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, postings PostingLister, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		postings:   postings,
		logger:     logger,
		spacing:    500 * time.Millisecond,
	}
}

// Progress is ignored; Slack only hears about finished runs.
func (s *SlackNotifier) Progress(model.RunProgress) {}

// Completed sends the run summary. Failures are logged.
func (s *SlackNotifier) Completed(e model.CompletionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var postings []model.JobPosting
	if s.postings != nil && e.NewPostings > 0 {
		all, err := s.postings.Postings(ctx, e.RunID)
		if err != nil {
			s.logger.Warn("loading postings for slack summary", "run_id", e.RunID, "error", err)
		}
		postings = highlights(all)
	}

	if err := s.Send(e, postings); err != nil {
		s.logger.Error("slack notification failed", "run_id", e.RunID, "error", err)
	}
}

// highlights keeps recommended, non-duplicate postings.
func highlights(all []model.JobPosting) []model.JobPosting {
	var out []model.JobPosting
	for _, p := range all {
		if p.Recommended && p.DuplicateStatus == model.DuplicateUnique {
			out = append(out, p)
		}
		if len(out) == maxSlackPostings {
			break
		}
	}
	return out
}

// Send posts the summary and then each posting as a separate message.
// Returns an error if the summary fails or if every posting message fails.
func (s *SlackNotifier) Send(e model.CompletionEvent, postings []model.JobPosting) error {
	if err := s.sendMessage(buildSummaryPayload(e)); err != nil {
		return fmt.Errorf("sending run summary: %w", err)
	}

	failures := 0
	for _, p := range postings {
		time.Sleep(s.spacing)
		if err := s.sendMessage(buildPostingPayload(p)); err != nil {
			s.logger.Error("slack posting message failed", "title", p.Title, "error", err)
			failures++
		}
	}

	if len(postings) > 0 && failures == len(postings) {
		return fmt.Errorf("all %d slack posting messages failed", failures)
	}
	s.logger.Info("slack notifications complete", "run_id", e.RunID, "postings", len(postings)-failures, "failed", failures)
	return nil
}

func (s *SlackNotifier) sendMessage(payload slackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	resp, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if secs <= 0 {
			secs = 1
		}
		s.logger.Warn("slack rate limited, retrying", "retry_after_secs", secs)
		time.Sleep(time.Duration(secs) * time.Second)

		resp2, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
		defer resp2.Body.Close()

		if resp2.StatusCode != http.StatusOK {
			return fmt.Errorf("slack returned %d on retry", resp2.StatusCode)
		}
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type  string    `json:"type"`
	Text  slackText `json:"text"`
	URL   string    `json:"url"`
	Style string    `json:"style"`
}

// SendTestMessage sends a sample summary and posting to verify the webhook works.
func (s *SlackNotifier) SendTestMessage() error {
	posted := time.Now().Format("2006-01-02")
	e := model.CompletionEvent{RunID: "test-run", Status: model.RunCompleted, NewPostings: 1, Successful: 1}
	p := model.JobPosting{
		Title:          "Test Notification: Integration Verified",
		URL:            "https://www.ycombinator.com/jobs",
		Location:       "Everywhere",
		Recommendation: "Sent by `careerscan notify test`.",
		Recommended:    true,
		PostedDate:     &posted,
	}
	return s.Send(e, []model.JobPosting{p})
}

func buildSummaryPayload(e model.CompletionEvent) slackPayload {
	icon := "✅"
	if e.Status == model.RunFailed {
		icon = "⚠️"
	}
	return slackPayload{Blocks: []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("%s Career scan %s", icon, e.Status)},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*New postings:*\n%d", e.NewPostings)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Sites:*\n%d ok, %d failed", e.Successful, e.Failed)},
			},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "Run `" + e.RunID + "`"},
		},
	}}
}

func buildPostingPayload(p model.JobPosting) slackPayload {
	postedText := "Unknown"
	if p.PostedDate != nil && *p.PostedDate != "" {
		postedText = *p.PostedDate
	}
	location := p.Location
	if location == "" {
		location = "Not listed"
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: "🚀 " + p.Title},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Location:*\n" + location},
				{Type: "mrkdwn", Text: "*Posted:*\n" + postedText},
			},
		},
	}
	if p.Recommendation != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Why it matches:* " + p.Recommendation},
		})
	}
	blocks = append(blocks,
		slackBlock{
			Type: "actions",
			Elements: []slackElement{
				{
					Type:  "button",
					Text:  slackText{Type: "plain_text", Text: "View Posting"},
					URL:   p.URL,
					Style: "primary",
				},
			},
		},
		slackBlock{Type: "divider"},
	)
	return slackPayload{Blocks: blocks}
}
