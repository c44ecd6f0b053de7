// Package dedup assigns heuristic identities to extracted postings and flags
// ones that were already stored.
package dedup

import (
	"strings"

	"github.com/amishk599/careerscan/internal/fingerprint"
	"github.com/amishk599/careerscan/internal/model"
)

// Identity returns the duplication token for a posting. A non-empty job URL
// distinct from the site URL identifies the posting; otherwise the title does. Sites
// that list roles inline with no per-job URL therefore flag every repost of an
// unchanged title as a suspected duplicate.
func Identity(siteURL, jobURL, title string) string {
	if u := strings.TrimSpace(jobURL); u != "" && u != siteURL {
		return fingerprint.Of(jobURL)
	}
	return fingerprint.Of(title)
}

// Classifier tracks known identity tokens across one batch of postings.
type Classifier struct {
	known map[string]struct{}
}

// NewClassifier seeds the classifier with tokens already in storage.
// The map is copied; the caller's set is not mutated.
func NewClassifier(existing map[string]struct{}) *Classifier {
	known := make(map[string]struct{}, len(existing))
	for k := range existing {
		known[k] = struct{}{}
	}
	return &Classifier{known: known}
}

// Classify returns the posting's token and whether it was seen before. The
// token is remembered, so a repeat within the same batch is also flagged.
// It never returns model.DuplicateConfirmed.
func (c *Classifier) Classify(siteURL string, raw model.RawPosting) (string, model.DuplicateStatus) {
	token := Identity(siteURL, raw.URL, raw.Title)
	if _, ok := c.known[token]; ok {
		return token, model.DuplicateSuspected
	}
	c.known[token] = struct{}{}
	return token, model.DuplicateUnique
}
