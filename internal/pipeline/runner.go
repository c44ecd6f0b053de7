// Package pipeline runs the fetch, change-detect, extract and classify steps
// for a single site.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/careerscan/internal/ai"
	"github.com/amishk599/careerscan/internal/changegate"
	"github.com/amishk599/careerscan/internal/content"
	"github.com/amishk599/careerscan/internal/dedup"
	"github.com/amishk599/careerscan/internal/model"
)

// Extractor turns serialized page content into candidate postings.
type Extractor interface {
	Extract(ctx context.Context, req ai.Request) (ai.Result, error)
	Instructions() string
}

// SiteRunner owns the per-site state machine:
// PENDING → SCRAPING → PROCESSING → COMPLETE | ERROR.
type SiteRunner struct {
	fetcher   model.PageFetcher
	store     model.Store
	gate      *changegate.Gate
	extractor Extractor
	model     string
	logger    *slog.Logger
	now       func() time.Time
}

// NewSiteRunner creates a runner. modelName is recorded on usage entries when
// the provider response does not name one.
func NewSiteRunner(
	fetcher model.PageFetcher,
	store model.Store,
	extractor Extractor,
	modelName string,
	logger *slog.Logger,
) *SiteRunner {
	return &SiteRunner{
		fetcher:   fetcher,
		store:     store,
		gate:      changegate.New(store),
		extractor: extractor,
		model:     modelName,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run processes one site for runID. Every state change is passed to yield in
// order; yield must return promptly. Failures never escape: they come back as
// an outcome with Result set to model.TaskError.
func (r *SiteRunner) Run(ctx context.Context, runID string, site model.Site, yield func(model.SiteProgress)) model.SiteOutcome {
	status := model.SiteProgress{SiteID: site.ID, SiteName: site.Name, State: model.StateScraping}
	yield(status)

	fail := func(err error) model.SiteOutcome {
		status.State = model.StateError
		status.Result = model.TaskError
		status.Error = err.Error()
		yield(status)
		r.logger.Warn("site failed", "run_id", runID, "site", site.Name, "error", err)
		return model.SiteOutcome{Result: model.TaskError, Err: err}
	}

	prompt, err := r.store.Prompt(ctx, site.PromptID)
	if err != nil {
		return fail(fmt.Errorf("loading prompt for %s: %w", site.Name, err))
	}

	markup, err := r.fetcher.Fetch(ctx, site.URL, site.Selector)
	if err != nil {
		return fail(err)
	}

	items, err := content.Extract(markup, site.URL)
	if err != nil {
		return fail(err)
	}
	serialized, err := content.Serialize(items)
	if err != nil {
		return fail(err)
	}

	instructions := r.extractor.Instructions()
	skip, key, err := r.gate.ShouldSkip(ctx, site.ID, serialized, prompt.Criteria, instructions)
	if err != nil {
		return fail(err)
	}
	if skip {
		status.State = model.StateComplete
		status.Result = model.TaskHashExists
		yield(status)
		r.logger.Info("content unchanged", "run_id", runID, "site", site.Name)
		return model.SiteOutcome{Result: model.TaskHashExists}
	}

	status.State = model.StateProcessing
	yield(status)

	res, err := r.extractor.Extract(ctx, ai.Request{
		Criteria: prompt.Criteria,
		Content:  serialized,
		SiteURL:  site.URL,
	})
	if spentTokens(res.Completion) {
		r.recordUsage(ctx, runID, site.ID, serialized, res)
	}
	if err != nil {
		return fail(err)
	}

	postings, err := r.classify(ctx, runID, site, res.Postings)
	if err != nil {
		return fail(err)
	}
	if err := r.store.CreatePostings(ctx, postings); err != nil {
		return fail(fmt.Errorf("storing postings for %s: %w", site.Name, err))
	}
	if err := r.gate.Record(ctx, key); err != nil {
		return fail(err)
	}

	status.State = model.StateComplete
	status.Result = model.TaskNewData
	status.NewPostings = len(postings)
	yield(status)

	r.logger.Info("site processed",
		"run_id", runID,
		"site", site.Name,
		"postings", len(postings),
	)
	return model.SiteOutcome{Result: model.TaskNewData, NewPostings: len(postings)}
}

func (r *SiteRunner) classify(ctx context.Context, runID string, site model.Site, raw []model.RawPosting) ([]model.JobPosting, error) {
	existing, err := r.store.DuplicationIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading duplication identities: %w", err)
	}
	classifier := dedup.NewClassifier(existing)

	created := r.now()
	postings := make([]model.JobPosting, 0, len(raw))
	for _, p := range raw {
		token, dup := classifier.Classify(site.URL, p)
		postings = append(postings, model.JobPosting{
			ID:                  uuid.NewString(),
			SiteID:              site.ID,
			RunID:               runID,
			Title:               p.Title,
			URL:                 p.URL,
			Location:            p.Location,
			Description:         p.Description,
			Recommendation:      p.Recommendation,
			Recommended:         p.Recommended,
			PostedDate:          p.PostedDate,
			Status:              model.JobStatusNew,
			DuplicateStatus:     dup,
			DuplicationIdentity: token,
			CreatedAt:           created,
		})
	}
	return postings, nil
}

// spentTokens reports whether the provider answered at all, including with
// empty content such as a refusal.
func spentTokens(c ai.Completion) bool {
	return c.Content != "" || c.PromptTokens > 0 || c.CompletionTokens > 0 || c.TotalTokens > 0
}

// recordUsage writes the audit entry for one provider call. A failed write is
// logged and does not change the site's outcome.
func (r *SiteRunner) recordUsage(ctx context.Context, runID, siteID, serialized string, res ai.Result) {
	modelName := res.Completion.Model
	if modelName == "" {
		modelName = r.model
	}
	err := r.store.CreateUsage(ctx, model.UsageRecord{
		ID:               uuid.NewString(),
		RunID:            runID,
		SiteID:           siteID,
		Model:            modelName,
		PromptTokens:     res.Completion.PromptTokens,
		CompletionTokens: res.Completion.CompletionTokens,
		TotalTokens:      res.Completion.TotalTokens,
		Prompt:           res.Prompt,
		ScrapedContent:   serialized,
		Output:           res.Completion.Content,
		CreatedAt:        r.now(),
	})
	if err != nil {
		r.logger.Warn("failed to record api usage", "run_id", runID, "site_id", siteID, "error", err)
	}
}
