package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/amishk599/careerscan/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSlack(url string, client *http.Client, postings PostingLister) *SlackNotifier {
	n := NewSlackNotifier(url, client, postings, discardLogger())
	n.spacing = 0
	return n
}

func strPtr(s string) *string { return &s }

type stubPostings struct {
	postings []model.JobPosting
}

func (s stubPostings) Postings(context.Context, string) ([]model.JobPosting, error) {
	return s.postings, nil
}

// bodyRecorder captures every request body sent to the test server.
type bodyRecorder struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (b *bodyRecorder) handler(status func(n int) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.bodies = append(b.bodies, body)
		n := len(b.bodies)
		b.mu.Unlock()
		w.WriteHeader(status(n))
	}
}

func ok(int) int { return http.StatusOK }

func decode(t *testing.T, body []byte) slackPayload {
	t.Helper()
	var payload slackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return payload
}

func TestSlackNotifier_SummaryOnly(t *testing.T) {
	rec := &bodyRecorder{}
	srv := httptest.NewServer(rec.handler(ok))
	defer srv.Close()

	n := newTestSlack(srv.URL, srv.Client(), nil)
	n.Completed(model.CompletionEvent{RunID: "r1", Status: model.RunCompleted, NewPostings: 3, Successful: 2})

	if len(rec.bodies) != 1 {
		t.Fatalf("expected 1 HTTP call, got %d", len(rec.bodies))
	}
	payload := decode(t, rec.bodies[0])
	if payload.Blocks[0].Type != "header" || payload.Blocks[0].Text.Text != "✅ Career scan completed" {
		t.Errorf("header = %+v", payload.Blocks[0].Text)
	}
	if payload.Blocks[1].Fields[0].Text != "*New postings:*\n3" {
		t.Errorf("postings field = %q", payload.Blocks[1].Fields[0].Text)
	}
}

func TestSlackNotifier_FailedRunHeader(t *testing.T) {
	rec := &bodyRecorder{}
	srv := httptest.NewServer(rec.handler(ok))
	defer srv.Close()

	n := newTestSlack(srv.URL, srv.Client(), nil)
	if err := n.Send(model.CompletionEvent{RunID: "r1", Status: model.RunFailed, Failed: 1}, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	payload := decode(t, rec.bodies[0])
	if payload.Blocks[0].Text.Text != "⚠️ Career scan failed" {
		t.Errorf("header = %q", payload.Blocks[0].Text.Text)
	}
}

func TestSlackNotifier_HighlightsRecommendedUnique(t *testing.T) {
	rec := &bodyRecorder{}
	srv := httptest.NewServer(rec.handler(ok))
	defer srv.Close()

	lister := stubPostings{postings: []model.JobPosting{
		{Title: "Go Engineer", URL: "https://acme.example.com/jobs/1", Recommended: true, DuplicateStatus: model.DuplicateUnique, Recommendation: "Go and remote"},
		{Title: "Repost", URL: "https://acme.example.com/jobs/2", Recommended: true, DuplicateStatus: model.DuplicateSuspected},
		{Title: "Sales", URL: "https://acme.example.com/jobs/3", Recommended: false, DuplicateStatus: model.DuplicateUnique},
	}}
	n := newTestSlack(srv.URL, srv.Client(), lister)
	n.Completed(model.CompletionEvent{RunID: "r1", Status: model.RunCompleted, NewPostings: 3, Successful: 1})

	if len(rec.bodies) != 2 {
		t.Fatalf("expected summary plus 1 posting message, got %d calls", len(rec.bodies))
	}
	payload := decode(t, rec.bodies[1])
	if len(payload.Blocks) != 5 {
		t.Fatalf("expected 5 blocks, got %d", len(payload.Blocks))
	}
	if payload.Blocks[0].Text.Text != "🚀 Go Engineer" {
		t.Errorf("header = %q", payload.Blocks[0].Text.Text)
	}
	if payload.Blocks[1].Fields[1].Text != "*Posted:*\nUnknown" {
		t.Errorf("posted field = %q, want Unknown for nil posted date", payload.Blocks[1].Fields[1].Text)
	}
	if payload.Blocks[3].Type != "actions" || payload.Blocks[3].Elements[0].URL != "https://acme.example.com/jobs/1" {
		t.Errorf("actions block = %+v", payload.Blocks[3])
	}
	if payload.Blocks[3].Elements[0].Style != "primary" {
		t.Errorf("button style = %q, want primary", payload.Blocks[3].Elements[0].Style)
	}
	if payload.Blocks[4].Type != "divider" {
		t.Errorf("block[4] type = %q, want divider", payload.Blocks[4].Type)
	}
}

func TestSlackNotifier_SummaryFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := newTestSlack(srv.URL, srv.Client(), nil)
	if err := n.Send(model.CompletionEvent{RunID: "r1"}, nil); err == nil {
		t.Error("expected error when the summary fails, got nil")
	}
}

func TestSlackNotifier_AllPostingsFail(t *testing.T) {
	rec := &bodyRecorder{}
	srv := httptest.NewServer(rec.handler(func(n int) int {
		if n == 1 {
			return http.StatusOK
		}
		return http.StatusInternalServerError
	}))
	defer srv.Close()

	n := newTestSlack(srv.URL, srv.Client(), nil)
	postings := []model.JobPosting{{Title: "A"}, {Title: "B"}}
	if err := n.Send(model.CompletionEvent{RunID: "r1"}, postings); err == nil {
		t.Error("expected error when every posting message fails, got nil")
	}
}

func TestSlackNotifier_PartialFailure(t *testing.T) {
	rec := &bodyRecorder{}
	srv := httptest.NewServer(rec.handler(func(n int) int {
		if n == 2 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	}))
	defer srv.Close()

	n := newTestSlack(srv.URL, srv.Client(), nil)
	postings := []model.JobPosting{{Title: "Fails"}, {Title: "Succeeds"}}
	if err := n.Send(model.CompletionEvent{RunID: "r1"}, postings); err != nil {
		t.Errorf("expected nil (partial success), got %v", err)
	}
}

func TestSlackNotifier_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := calls.Add(1)
		if c == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	n := newTestSlack(srv.URL, srv.Client(), nil)
	if err := n.Send(model.CompletionEvent{RunID: "r1"}, nil); err != nil {
		t.Fatalf("expected nil after retry, got %v", err)
	}
	if c := calls.Load(); c != 2 {
		t.Errorf("expected 2 HTTP calls (initial + retry), got %d", c)
	}
}

func TestHighlights_Capped(t *testing.T) {
	var all []model.JobPosting
	for i := 0; i < maxSlackPostings+5; i++ {
		all = append(all, model.JobPosting{Recommended: true, DuplicateStatus: model.DuplicateUnique, PostedDate: strPtr("2026-01-01")})
	}
	if got := len(highlights(all)); got != maxSlackPostings {
		t.Errorf("highlights = %d, want %d", got, maxSlackPostings)
	}
}
