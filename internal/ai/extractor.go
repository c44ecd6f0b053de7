package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/amishk599/careerscan/internal/model"
)

// Request carries the inputs of one extraction call.
type Request struct {
	Criteria string
	Content  string // serialized scraped content
	SiteURL  string
}

// Result is the validated postings plus what was sent and received, kept for usage auditing.
type Result struct {
	Postings   []model.RawPosting
	Prompt     string
	Completion Completion
}

// LLMExtractor reduces scraped page content to job postings with one LLM call.
type LLMExtractor struct {
	provider     LLMProvider
	tmpl         *template.Template
	instructions string
	logger       *slog.Logger
}

// NewLLMExtractor creates an extractor. tmpl receives Criteria, Content,
// SiteURL and Instructions.
func NewLLMExtractor(provider LLMProvider, tmpl *template.Template, instructions string, logger *slog.Logger) *LLMExtractor {
	return &LLMExtractor{
		provider:     provider,
		tmpl:         tmpl,
		instructions: instructions,
		logger:       logger,
	}
}

// Instructions returns the instruction block embedded in every prompt.
func (e *LLMExtractor) Instructions() string { return e.instructions }

// Extract renders the prompt, calls the provider and validates the response.
// Provider failures come back as *model.ExtractionProviderError and invalid
// responses as *model.ExtractionParseError. Zero postings is not an error.
func (e *LLMExtractor) Extract(ctx context.Context, req Request) (Result, error) {
	prompt, err := e.render(req)
	if err != nil {
		return Result{}, err
	}

	completion, err := e.provider.Complete(ctx, prompt)
	if err != nil {
		return Result{Prompt: prompt}, err
	}

	postings, err := parsePostings(completion.Content)
	if err != nil {
		return Result{Prompt: prompt, Completion: completion}, err
	}

	if e.logger != nil {
		e.logger.Debug("extraction complete",
			"site_url", req.SiteURL,
			"postings", len(postings),
			"total_tokens", completion.TotalTokens,
		)
	}
	return Result{Postings: postings, Prompt: prompt, Completion: completion}, nil
}

func (e *LLMExtractor) render(req Request) (string, error) {
	var buf bytes.Buffer
	err := e.tmpl.Execute(&buf, struct {
		Criteria     string
		Content      string
		SiteURL      string
		Instructions string
	}{
		Criteria:     req.Criteria,
		Content:      req.Content,
		SiteURL:      req.SiteURL,
		Instructions: e.instructions,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// rawJob is the JSON shape of one element of jobPostingSchema's jobs array.
// Pointer fields let validation tell a missing field from a zero value.
type rawJob struct {
	Title          *string         `json:"title"`
	URL            *string         `json:"url"`
	Location       *string         `json:"location"`
	Description    *string         `json:"description"`
	Recommendation *string         `json:"recommendation"`
	Recommended    *bool           `json:"recommended"`
	PostedDate     json.RawMessage `json:"posted_date"`
}

type rawJobList struct {
	Jobs *[]rawJob `json:"jobs"`
}

// parsePostings validates raw against jobPostingSchema: known fields only,
// every field present, correct types, nullable posted_date.
func parsePostings(raw string) ([]model.RawPosting, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var list rawJobList
	if err := dec.Decode(&list); err != nil {
		return nil, &model.ExtractionParseError{Message: err.Error()}
	}
	if list.Jobs == nil {
		return nil, &model.ExtractionParseError{Message: "jobs: required"}
	}

	postings := make([]model.RawPosting, 0, len(*list.Jobs))
	for i, j := range *list.Jobs {
		p, err := j.toPosting()
		if err != nil {
			return nil, &model.ExtractionParseError{Message: fmt.Sprintf("jobs[%d].%s", i, err.Error())}
		}
		postings = append(postings, p)
	}
	return postings, nil
}

func (j rawJob) toPosting() (model.RawPosting, error) {
	required := []struct {
		name string
		val  *string
	}{
		{"title", j.Title},
		{"url", j.URL},
		{"location", j.Location},
		{"description", j.Description},
		{"recommendation", j.Recommendation},
	}
	for _, f := range required {
		if f.val == nil {
			return model.RawPosting{}, fmt.Errorf("%s: required", f.name)
		}
	}
	if j.Recommended == nil {
		return model.RawPosting{}, fmt.Errorf("recommended: required")
	}
	if len(j.PostedDate) == 0 {
		return model.RawPosting{}, fmt.Errorf("posted_date: required")
	}

	var posted *string
	if string(j.PostedDate) != "null" {
		var s string
		if err := json.Unmarshal(j.PostedDate, &s); err != nil {
			return model.RawPosting{}, fmt.Errorf("posted_date: must be a string or null")
		}
		posted = &s
	}

	if strings.TrimSpace(*j.Title) == "" {
		return model.RawPosting{}, fmt.Errorf("title: must not be empty")
	}

	return model.RawPosting{
		Title:          strings.TrimSpace(*j.Title),
		URL:            strings.TrimSpace(*j.URL),
		Location:       *j.Location,
		Description:    *j.Description,
		Recommendation: *j.Recommendation,
		Recommended:    *j.Recommended,
		PostedDate:     posted,
	}, nil
}
