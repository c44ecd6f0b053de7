// Package changegate decides whether a site's content needs a new extraction.
package changegate

import (
	"context"
	"fmt"
	"time"

	"github.com/amishk599/careerscan/internal/fingerprint"
	"github.com/amishk599/careerscan/internal/model"
)

// RecordStore is the subset of model.Store the gate needs.
type RecordStore interface {
	HasChangeRecord(ctx context.Context, rec model.ChangeRecord) (bool, error)
	CreateChangeRecord(ctx context.Context, rec model.ChangeRecord) error
}

// Gate compares content, criteria and instructions fingerprints against
// previously recorded successful extractions.
type Gate struct {
	store RecordStore
}

func New(store RecordStore) *Gate {
	return &Gate{store: store}
}

// Key builds the change record for the given inputs without touching storage.
func Key(siteID, content, prompt, instructions string) model.ChangeRecord {
	return model.ChangeRecord{
		SiteID:           siteID,
		ContentHash:      fingerprint.Of(content),
		PromptHash:       fingerprint.Of(prompt),
		InstructionsHash: fingerprint.Of(instructions),
	}
}

// ShouldSkip reports whether this exact (content, prompt, instructions) triple
// was already extracted for siteID. The returned key is what Record expects
// once the new extraction has been persisted.
func (g *Gate) ShouldSkip(ctx context.Context, siteID, content, prompt, instructions string) (bool, model.ChangeRecord, error) {
	key := Key(siteID, content, prompt, instructions)
	found, err := g.store.HasChangeRecord(ctx, key)
	if err != nil {
		return false, key, fmt.Errorf("looking up change record for site %s: %w", siteID, err)
	}
	return found, key, nil
}

// Record marks key as processed. Call only after postings are stored.
func (g *Gate) Record(ctx context.Context, key model.ChangeRecord) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	if err := g.store.CreateChangeRecord(ctx, key); err != nil {
		return fmt.Errorf("recording change for site %s: %w", key.SiteID, err)
	}
	return nil
}
