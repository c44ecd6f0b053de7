package progress

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/careerscan/internal/model"
)

// Set CAREERSCAN_TEST_REDIS_ADDR (e.g. localhost:6379) to run against a live server.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("CAREERSCAN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CAREERSCAN_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(context.Background(), addr, "", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore_PutGet(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	runID := uuid.NewString()

	want := model.RunProgress{
		RunID: runID,
		Sites: []model.SiteProgress{
			{SiteID: "a", SiteName: "Acme", State: model.StateComplete, Result: model.TaskNewData, NewPostings: 3},
			{SiteID: "b", SiteName: "Beta", State: model.StateError, Error: "selector not found"},
		},
		Done: true,
	}
	if err := s.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, runID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !got.Done || len(got.Sites) != 2 || got.Sites[0].NewPostings != 3 || got.Sites[1].Error != "selector not found" {
		t.Errorf("Get = %+v", got)
	}
}

func TestRedisStore_GetUnknown(t *testing.T) {
	s := newTestRedisStore(t)
	_, ok, err := s.Get(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unknown run")
	}
}

func TestNewRedisStoreFromClient_DefaultTTL(t *testing.T) {
	s := NewRedisStoreFromClient(nil, 0)
	if s.ttl != defaultTTL {
		t.Errorf("ttl = %v, want %v", s.ttl, defaultTTL)
	}
}
