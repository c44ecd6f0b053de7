package progress

import (
	"context"
	"testing"

	"github.com/amishk599/careerscan/internal/model"
)

func TestMemoryStore_GetUnknown(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unknown run")
	}
}

func TestMemoryStore_SnapshotsDoNotAlias(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := model.RunProgress{
		RunID: "r1",
		Sites: []model.SiteProgress{{SiteID: "s1", State: model.StatePending}},
	}
	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Mutating the caller's slice must not change the stored snapshot.
	p.Sites[0].State = model.StateScraping

	got, ok, _ := s.Get(ctx, "r1")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if got.Sites[0].State != model.StatePending {
		t.Errorf("stored state = %s, want PENDING", got.Sites[0].State)
	}

	// Mutating a read snapshot must not change the stored one either.
	got.Sites[0].State = model.StateError
	again, _, _ := s.Get(ctx, "r1")
	if again.Sites[0].State != model.StatePending {
		t.Errorf("stored state = %s after reader mutation, want PENDING", again.Sites[0].State)
	}
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Put(ctx, model.RunProgress{RunID: "r1", Sites: []model.SiteProgress{{SiteID: "s1", State: model.StatePending}}})
	_ = s.Put(ctx, model.RunProgress{RunID: "r1", Done: true, Sites: []model.SiteProgress{{SiteID: "s1", State: model.StateComplete}}})

	got, _, _ := s.Get(ctx, "r1")
	if !got.Done || got.Sites[0].State != model.StateComplete {
		t.Errorf("got %+v, want done with COMPLETE", got)
	}
}
