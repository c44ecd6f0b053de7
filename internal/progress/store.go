// Package progress holds live run snapshots that pollers and subscribers read
// while a run is executing.
package progress

import (
	"context"
	"sync"

	"github.com/amishk599/careerscan/internal/model"
)

// Store publishes and reads whole-run snapshots. Put replaces the previous
// snapshot atomically; Get never observes a half-written one.
type Store interface {
	Put(ctx context.Context, p model.RunProgress) error
	Get(ctx context.Context, runID string) (model.RunProgress, bool, error)
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]model.RunProgress
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]model.RunProgress)}
}

func (s *MemoryStore) Put(_ context.Context, p model.RunProgress) error {
	snap := p.Clone()
	s.mu.Lock()
	s.runs[p.RunID] = snap
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID string) (model.RunProgress, bool, error) {
	s.mu.RLock()
	p, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return model.RunProgress{}, false, nil
	}
	return p.Clone(), true, nil
}
