package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/amishk599/careerscan/internal/ai"
	"github.com/amishk599/careerscan/internal/dedup"
	"github.com/amishk599/careerscan/internal/model"
	"github.com/amishk599/careerscan/internal/store"
)

const siteURL = "https://acme.example.com/careers"

var testSite = model.Site{ID: "s1", Name: "Acme", URL: siteURL, Selector: "#jobs", PromptID: "p1", Active: true}

type fakeFetcher struct {
	markup string
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.markup, f.err
}

type fakeExtractor struct {
	postings []model.RawPosting
	err      error
	calls    int
}

func (f *fakeExtractor) Instructions() string { return "instructions v1" }

func (f *fakeExtractor) Extract(_ context.Context, req ai.Request) (ai.Result, error) {
	f.calls++
	res := ai.Result{
		Prompt:     "prompt for " + req.SiteURL,
		Completion: ai.Completion{Content: `{"jobs":[]}`, Model: "gpt-test", TotalTokens: 42},
	}
	if f.err != nil {
		return res, f.err
	}
	res.Postings = f.postings
	return res, nil
}

func newTestRunner(t *testing.T, f model.PageFetcher, e Extractor) (*SiteRunner, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	err := st.SyncCatalog(context.Background(),
		[]model.Prompt{{ID: "p1", Criteria: "Go roles", Active: true}},
		[]model.Site{testSite})
	if err != nil {
		t.Fatalf("SyncCatalog: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSiteRunner(f, st, e, "gpt-test", logger), st
}

func collect(states *[]model.SiteState) func(model.SiteProgress) {
	return func(p model.SiteProgress) { *states = append(*states, p.State) }
}

func equalStates(a, b []model.SiteState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRun_NewDataPersistsPostingsAndRecord(t *testing.T) {
	fetcher := &fakeFetcher{markup: `<div id="jobs"><a href="/jobs/1">Go Engineer</a></div>`}
	extractor := &fakeExtractor{postings: []model.RawPosting{
		{Title: "Go Engineer", URL: "https://acme.example.com/jobs/1", Recommended: true},
	}}
	runner, st := newTestRunner(t, fetcher, extractor)

	var states []model.SiteState
	out := runner.Run(context.Background(), "r1", testSite, collect(&states))

	if out.Result != model.TaskNewData || out.NewPostings != 1 || out.Err != nil {
		t.Fatalf("outcome = %+v, want new_data with 1 posting", out)
	}
	want := []model.SiteState{model.StateScraping, model.StateProcessing, model.StateComplete}
	if !equalStates(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}

	postings, _ := st.Postings(context.Background(), "r1")
	if len(postings) != 1 {
		t.Fatalf("stored %d postings, want 1", len(postings))
	}
	p := postings[0]
	if p.Status != model.JobStatusNew || p.DuplicateStatus != model.DuplicateUnique || p.ID == "" {
		t.Errorf("unexpected posting: %+v", p)
	}
	if p.DuplicationIdentity != dedup.Identity(siteURL, p.URL, p.Title) {
		t.Errorf("identity = %s, want identity of job URL", p.DuplicationIdentity)
	}

	usage := st.Usage()
	if len(usage) != 1 || usage[0].Model != "gpt-test" || usage[0].TotalTokens != 42 {
		t.Errorf("usage = %+v, want one gpt-test entry", usage)
	}
}

func TestRun_UnchangedContentSkipsExtraction(t *testing.T) {
	fetcher := &fakeFetcher{markup: `<div id="jobs"><p>Go Engineer</p></div>`}
	extractor := &fakeExtractor{}
	runner, _ := newTestRunner(t, fetcher, extractor)
	ctx := context.Background()

	first := runner.Run(ctx, "r1", testSite, func(model.SiteProgress) {})
	if first.Result != model.TaskNewData {
		t.Fatalf("first run = %+v, want new_data", first)
	}

	var states []model.SiteState
	second := runner.Run(ctx, "r2", testSite, collect(&states))
	if second.Result != model.TaskHashExists || second.NewPostings != 0 {
		t.Errorf("second run = %+v, want hash_exists", second)
	}
	if extractor.calls != 1 {
		t.Errorf("extractor called %d times, want 1", extractor.calls)
	}
	want := []model.SiteState{model.StateScraping, model.StateComplete}
	if !equalStates(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestRun_FetchErrorEndsInError(t *testing.T) {
	fetcher := &fakeFetcher{err: &model.FetchError{Kind: model.SelectorNotFound, URL: siteURL}}
	extractor := &fakeExtractor{}
	runner, _ := newTestRunner(t, fetcher, extractor)

	var last model.SiteProgress
	out := runner.Run(context.Background(), "r1", testSite, func(p model.SiteProgress) { last = p })

	if out.Result != model.TaskError || !model.IsFetchKind(out.Err, model.SelectorNotFound) {
		t.Errorf("outcome = %+v, want selector_not_found error", out)
	}
	if last.State != model.StateError || last.Error == "" {
		t.Errorf("last progress = %+v, want ERROR with message", last)
	}
	if extractor.calls != 0 {
		t.Error("extractor must not run after a fetch failure")
	}
}

func TestRun_ExtractionFailureWritesNoChangeRecord(t *testing.T) {
	fetcher := &fakeFetcher{markup: `<div id="jobs"><p>Go Engineer</p></div>`}
	extractor := &fakeExtractor{err: &model.ExtractionParseError{Message: "jobs: required"}}
	runner, _ := newTestRunner(t, fetcher, extractor)
	ctx := context.Background()

	out := runner.Run(ctx, "r1", testSite, func(model.SiteProgress) {})
	var parseErr *model.ExtractionParseError
	if !errors.As(out.Err, &parseErr) {
		t.Fatalf("err = %v, want ExtractionParseError", out.Err)
	}

	// The next run must try again rather than skip.
	extractor.err = nil
	again := runner.Run(ctx, "r2", testSite, func(model.SiteProgress) {})
	if again.Result != model.TaskNewData {
		t.Errorf("retry = %+v, want new_data", again)
	}
	if extractor.calls != 2 {
		t.Errorf("extractor called %d times, want 2", extractor.calls)
	}
}

func TestRun_DuplicateAgainstStoredPosting(t *testing.T) {
	fetcher := &fakeFetcher{markup: `<div id="jobs"><p>v1</p></div>`}
	extractor := &fakeExtractor{postings: []model.RawPosting{
		{Title: "Go Engineer", URL: "https://acme.example.com/jobs/1"},
	}}
	runner, st := newTestRunner(t, fetcher, extractor)
	ctx := context.Background()

	runner.Run(ctx, "r1", testSite, func(model.SiteProgress) {})

	fetcher.markup = `<div id="jobs"><p>v2</p></div>`
	extractor.postings = []model.RawPosting{
		{Title: "Go Engineer", URL: "https://acme.example.com/jobs/1"},
		{Title: "SRE", URL: "https://acme.example.com/jobs/2"},
	}
	out := runner.Run(ctx, "r2", testSite, func(model.SiteProgress) {})
	if out.NewPostings != 2 {
		t.Fatalf("new postings = %d, want 2", out.NewPostings)
	}

	postings, _ := st.Postings(ctx, "r2")
	got := map[string]model.DuplicateStatus{}
	for _, p := range postings {
		got[p.Title] = p.DuplicateStatus
	}
	if got["Go Engineer"] != model.DuplicateSuspected || got["SRE"] != model.DuplicateUnique {
		t.Errorf("statuses = %v, want Go Engineer suspected and SRE unique", got)
	}
}

func TestRun_MissingPromptIsSiteError(t *testing.T) {
	runner, _ := newTestRunner(t, &fakeFetcher{}, &fakeExtractor{})
	site := testSite
	site.PromptID = "missing"

	out := runner.Run(context.Background(), "r1", site, func(model.SiteProgress) {})
	if out.Result != model.TaskError || !errors.Is(out.Err, model.ErrNotFound) {
		t.Errorf("outcome = %+v, want not-found error", out)
	}
}

// refusingExtractor answers with token usage but no content.
type refusingExtractor struct{}

func (refusingExtractor) Instructions() string { return "instructions v1" }

func (refusingExtractor) Extract(_ context.Context, req ai.Request) (ai.Result, error) {
	return ai.Result{
		Prompt:     "prompt for " + req.SiteURL,
		Completion: ai.Completion{Model: "gpt-test", PromptTokens: 30, TotalTokens: 30},
	}, &model.ExtractionParseError{Message: "unexpected end of JSON input"}
}

func TestRun_EmptyCompletionStillRecordsUsage(t *testing.T) {
	r, st := newTestRunner(t, &fakeFetcher{markup: `<div id="jobs"><p>Go Engineer</p></div>`}, refusingExtractor{})

	outcome := r.Run(context.Background(), "run-1", testSite, func(model.SiteProgress) {})
	if outcome.Result != model.TaskError {
		t.Fatalf("Result = %s, want error", outcome.Result)
	}

	usage := st.Usage()
	if len(usage) != 1 {
		t.Fatalf("usage records = %d, want 1", len(usage))
	}
	if usage[0].TotalTokens != 30 || usage[0].Output != "" {
		t.Errorf("usage = %+v", usage[0])
	}
}

func TestRun_ProviderErrorWithoutAnswerRecordsNoUsage(t *testing.T) {
	e := &fakeExtractor{err: &model.ExtractionProviderError{Code: model.ProviderNetwork, Err: errors.New("connection reset")}}
	r, st := newTestRunner(t, &fakeFetcher{markup: `<div id="jobs"><p>Go Engineer</p></div>`}, noAnswer{e})

	r.Run(context.Background(), "run-1", testSite, func(model.SiteProgress) {})
	if n := len(st.Usage()); n != 0 {
		t.Errorf("usage records = %d, want 0", n)
	}
}

// noAnswer drops the completion, as a provider does when the request never got a response.
type noAnswer struct{ *fakeExtractor }

func (n noAnswer) Extract(ctx context.Context, req ai.Request) (ai.Result, error) {
	res, err := n.fakeExtractor.Extract(ctx, req)
	res.Completion = ai.Completion{}
	return res, err
}
