package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amishk599/careerscan/internal/model"
)

type fakeStarter struct {
	mu       sync.Mutex
	active   bool
	err      error
	comments []string
	calls    atomic.Int32
}

func (f *fakeStarter) StartWithComment(_ context.Context, _ []string, comment string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, comment)
	if f.err != nil {
		return "", f.err
	}
	return "run-1", nil
}

func (f *fakeStarter) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_ImmediateRunThenShutdown(t *testing.T) {
	starter := &fakeStarter{}
	s := NewScheduler(starter, "@every 1h", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for starter.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected an immediate run on start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if starter.comments[0] != "scheduled" {
		t.Errorf("comment = %q, want scheduled", starter.comments[0])
	}
}

func TestScheduler_SkipsWhileActive(t *testing.T) {
	starter := &fakeStarter{active: true}
	s := NewScheduler(starter, "@every 1h", discardLogger())

	s.trigger(context.Background())
	if c := starter.calls.Load(); c != 0 {
		t.Errorf("expected no start while a run is active, got %d", c)
	}
}

func TestScheduler_NoSitesIsNotFatal(t *testing.T) {
	starter := &fakeStarter{err: model.ErrNoSites}
	s := NewScheduler(starter, "@every 1h", discardLogger())

	s.trigger(context.Background())
	s.trigger(context.Background())
	if c := starter.calls.Load(); c != 2 {
		t.Errorf("expected both ticks to attempt a start, got %d", c)
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := NewScheduler(&fakeStarter{}, "every tuesday-ish", discardLogger())
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestScheduler_CancelledContextSkipsTrigger(t *testing.T) {
	starter := &fakeStarter{}
	s := NewScheduler(starter, "@every 1h", discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.trigger(ctx)
	if c := starter.calls.Load(); c != 0 {
		t.Errorf("expected no start after cancel, got %d", c)
	}
}
