package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amishk599/careerscan/internal/model"
	"github.com/amishk599/careerscan/internal/store"
)

type fakeRuns struct {
	active   bool
	startErr error
	retryErr error
	started  [][]string
	retried  []string
	progress map[string]model.RunProgress
}

func (f *fakeRuns) Start(_ context.Context, ids []string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, ids)
	return "run-new", nil
}

func (f *fakeRuns) RetryFailed(_ context.Context, id string) (string, error) {
	if f.retryErr != nil {
		return "", f.retryErr
	}
	f.retried = append(f.retried, id)
	return "run-retry", nil
}

func (f *fakeRuns) Progress(_ context.Context, id string) (model.RunProgress, error) {
	p, ok := f.progress[id]
	if !ok {
		return model.RunProgress{}, model.ErrRunNotFound
	}
	return p, nil
}

func (f *fakeRuns) Active() bool { return f.active }

type response struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, runs *fakeRuns) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(runs, st, nil, logger), st
}

func do(t *testing.T, s *Server, method, path string, body any) response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	if out.Status != resp.StatusCode {
		t.Errorf("envelope status %d != HTTP status %d", out.Status, resp.StatusCode)
	}
	return out
}

func TestStartRun(t *testing.T) {
	runs := &fakeRuns{}
	s, _ := newTestServer(t, runs)

	out := do(t, s, http.MethodPost, "/api/runs", startRequest{SiteIDs: []string{"acme"}})
	if out.Status != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", out.Status, out.Message)
	}
	var created runCreated
	_ = json.Unmarshal(out.Data, &created)
	if created.RunID != "run-new" {
		t.Errorf("run_id = %q", created.RunID)
	}
	if len(runs.started) != 1 || runs.started[0][0] != "acme" {
		t.Errorf("started = %v", runs.started)
	}
}

func TestStartRun_EmptyBodyScansAll(t *testing.T) {
	runs := &fakeRuns{}
	s, _ := newTestServer(t, runs)

	out := do(t, s, http.MethodPost, "/api/runs", nil)
	if out.Status != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", out.Status)
	}
	if len(runs.started) != 1 || len(runs.started[0]) != 0 {
		t.Errorf("started = %v, want one call with no ids", runs.started)
	}
}

func TestStartRun_RejectsWhileActive(t *testing.T) {
	runs := &fakeRuns{active: true}
	s, _ := newTestServer(t, runs)

	out := do(t, s, http.MethodPost, "/api/runs", nil)
	if out.Status != http.StatusConflict {
		t.Errorf("status = %d, want 409", out.Status)
	}
	if len(runs.started) != 0 {
		t.Error("no run may start while another is active")
	}
}

func TestStartRun_ConfigurationError(t *testing.T) {
	runs := &fakeRuns{startErr: &model.ConfigurationError{Setting: "model"}}
	s, _ := newTestServer(t, runs)

	out := do(t, s, http.MethodPost, "/api/runs", nil)
	if out.Status != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412", out.Status)
	}
	if out.Message != "configuration: model is not set" {
		t.Errorf("message = %q", out.Message)
	}
}

func TestRetryRun_NoFailures(t *testing.T) {
	runs := &fakeRuns{retryErr: model.ErrNoFailures}
	s, _ := newTestServer(t, runs)

	out := do(t, s, http.MethodPost, "/api/runs/r1/retry", nil)
	if out.Status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", out.Status)
	}
}

func TestRetryRun(t *testing.T) {
	runs := &fakeRuns{}
	s, _ := newTestServer(t, runs)

	out := do(t, s, http.MethodPost, "/api/runs/r1/retry", nil)
	if out.Status != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", out.Status)
	}
	if len(runs.retried) != 1 || runs.retried[0] != "r1" {
		t.Errorf("retried = %v", runs.retried)
	}
}

func TestGetProgress(t *testing.T) {
	runs := &fakeRuns{progress: map[string]model.RunProgress{
		"r1": {RunID: "r1", Sites: []model.SiteProgress{{SiteID: "s1", State: model.StateProcessing}}},
	}}
	s, _ := newTestServer(t, runs)

	out := do(t, s, http.MethodGet, "/api/runs/r1/progress", nil)
	if out.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", out.Status)
	}
	var p model.RunProgress
	_ = json.Unmarshal(out.Data, &p)
	if len(p.Sites) != 1 || p.Sites[0].State != model.StateProcessing {
		t.Errorf("progress = %+v", p)
	}

	missing := do(t, s, http.MethodGet, "/api/runs/nope/progress", nil)
	if missing.Status != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", missing.Status)
	}
}

func TestGetRunWithTasksAndPostings(t *testing.T) {
	s, st := newTestServer(t, &fakeRuns{})
	ctx := context.Background()
	now := time.Now()

	_ = st.CreateRun(ctx, model.ScrapeRun{ID: "r1", Status: model.RunFailed, Total: 2, Failed: 1, Successful: 1, StartedAt: now})
	_ = st.CreateTask(ctx, model.ScrapeTask{ID: "t1", RunID: "r1", SiteID: "s1", Result: model.TaskNewData, NewPostings: 1})
	_ = st.CreateTask(ctx, model.ScrapeTask{ID: "t2", RunID: "r1", SiteID: "s2", Result: model.TaskError, Error: "boom"})
	_ = st.CreatePostings(ctx, []model.JobPosting{{ID: "j1", RunID: "r1", SiteID: "s1", Title: "Go Engineer", Status: model.JobStatusNew, DuplicateStatus: model.DuplicateUnique}})

	out := do(t, s, http.MethodGet, "/api/runs/r1", nil)
	if out.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", out.Status)
	}
	var run runView
	_ = json.Unmarshal(out.Data, &run)
	if run.Status != model.RunFailed || len(run.Tasks) != 2 || run.Tasks[1].Error != "boom" {
		t.Errorf("run = %+v", run)
	}

	postings := do(t, s, http.MethodGet, "/api/runs/r1/postings", nil)
	var list []postingView
	_ = json.Unmarshal(postings.Data, &list)
	if len(list) != 1 || list[0].Title != "Go Engineer" || list[0].DuplicateStatus != model.DuplicateUnique {
		t.Errorf("postings = %+v", list)
	}

	missing := do(t, s, http.MethodGet, "/api/runs/nope", nil)
	if missing.Status != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", missing.Status)
	}
}
