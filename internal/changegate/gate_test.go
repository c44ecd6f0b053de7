package changegate

import (
	"context"
	"testing"

	"github.com/amishk599/careerscan/internal/model"
)

// memRecords is a map-backed RecordStore.
type memRecords struct {
	recs map[model.ChangeRecord]bool
}

func newMemRecords() *memRecords {
	return &memRecords{recs: make(map[model.ChangeRecord]bool)}
}

// strip drops the timestamp so lookups compare only the key fields.
func strip(rec model.ChangeRecord) model.ChangeRecord {
	return model.ChangeRecord{
		SiteID:           rec.SiteID,
		ContentHash:      rec.ContentHash,
		PromptHash:       rec.PromptHash,
		InstructionsHash: rec.InstructionsHash,
	}
}

func (m *memRecords) HasChangeRecord(_ context.Context, rec model.ChangeRecord) (bool, error) {
	return m.recs[strip(rec)], nil
}

func (m *memRecords) CreateChangeRecord(_ context.Context, rec model.ChangeRecord) error {
	m.recs[strip(rec)] = true
	return nil
}

func TestShouldSkip_FalseUntilRecorded(t *testing.T) {
	ctx := context.Background()
	g := New(newMemRecords())

	skip, key, err := g.ShouldSkip(ctx, "site-1", "content", "prompt", "instructions")
	if err != nil {
		t.Fatalf("ShouldSkip: %v", err)
	}
	if skip {
		t.Fatal("expected no skip before any record")
	}

	if err := g.Record(ctx, key); err != nil {
		t.Fatalf("Record: %v", err)
	}

	skip, _, err = g.ShouldSkip(ctx, "site-1", "content", "prompt", "instructions")
	if err != nil {
		t.Fatalf("ShouldSkip: %v", err)
	}
	if !skip {
		t.Error("expected skip after recording the same triple")
	}
}

func TestShouldSkip_AnyChangedInputForcesExtraction(t *testing.T) {
	ctx := context.Background()
	g := New(newMemRecords())

	_, key, _ := g.ShouldSkip(ctx, "site-1", "content", "prompt", "instructions")
	if err := g.Record(ctx, key); err != nil {
		t.Fatalf("Record: %v", err)
	}

	cases := []struct {
		name                                 string
		site, content, prompt, instructions string
	}{
		{"content changed", "site-1", "content v2", "prompt", "instructions"},
		{"prompt changed", "site-1", "content", "prompt v2", "instructions"},
		{"instructions changed", "site-1", "content", "prompt", "instructions v2"},
		{"other site", "site-2", "content", "prompt", "instructions"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			skip, _, err := g.ShouldSkip(ctx, tc.site, tc.content, tc.prompt, tc.instructions)
			if err != nil {
				t.Fatalf("ShouldSkip: %v", err)
			}
			if skip {
				t.Error("expected extraction to be required")
			}
		})
	}
}

func TestKey_HashesEachInput(t *testing.T) {
	a := Key("s", "c", "p", "i")
	b := Key("s", "c", "p", "i")
	if a != b {
		t.Errorf("Key not deterministic: %+v vs %+v", a, b)
	}
	if a.ContentHash == a.PromptHash || a.PromptHash == a.InstructionsHash {
		t.Errorf("distinct inputs produced equal hashes: %+v", a)
	}
}
