package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/amishk599/careerscan/internal/model"
)

// MemoryStore keeps everything in process memory. It backs dry runs and tests;
// nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	prompts  map[string]model.Prompt
	sites    []model.Site
	runs     map[string]model.ScrapeRun
	tasks    []model.ScrapeTask
	postings []model.JobPosting
	changes  map[model.ChangeRecord]struct{}
	usage    []model.UsageRecord
}

var _ model.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prompts: make(map[string]model.Prompt),
		runs:    make(map[string]model.ScrapeRun),
		changes: make(map[model.ChangeRecord]struct{}),
	}
}

// changeKey drops the timestamp so lookups match on the hashed fields only.
func changeKey(rec model.ChangeRecord) model.ChangeRecord {
	return model.ChangeRecord{
		SiteID:           rec.SiteID,
		ContentHash:      rec.ContentHash,
		PromptHash:       rec.PromptHash,
		InstructionsHash: rec.InstructionsHash,
	}
}

func (s *MemoryStore) SyncCatalog(_ context.Context, prompts []model.Prompt, sites []model.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range prompts {
		s.prompts[p.ID] = p
	}
	for _, site := range sites {
		replaced := false
		for i := range s.sites {
			if s.sites[i].ID == site.ID {
				s.sites[i] = site
				replaced = true
				break
			}
		}
		if !replaced {
			s.sites = append(s.sites, site)
		}
	}
	return nil
}

func (s *MemoryStore) Sites(_ context.Context) ([]model.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Site(nil), s.sites...), nil
}

func (s *MemoryStore) ActiveSites(_ context.Context, ids []string) ([]model.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Site
	for _, site := range s.sites {
		if !site.Active {
			continue
		}
		if len(ids) > 0 && !want[site.ID] {
			continue
		}
		out = append(out, site)
	}
	return out, nil
}

func (s *MemoryStore) Prompt(_ context.Context, id string) (model.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok {
		return model.Prompt{}, fmt.Errorf("prompt %s: %w", id, model.ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) DuplicationIdentities(_ context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.postings))
	for _, p := range s.postings {
		out[p.DuplicationIdentity] = struct{}{}
	}
	return out, nil
}

func (s *MemoryStore) HasChangeRecord(_ context.Context, rec model.ChangeRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.changes[changeKey(rec)]
	return ok, nil
}

func (s *MemoryStore) CreateChangeRecord(_ context.Context, rec model.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[changeKey(rec)] = struct{}{}
	return nil
}

func (s *MemoryStore) CreateRun(_ context.Context, run model.ScrapeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("creating run %s: already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run model.ScrapeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("updating run %s: %w", run.ID, model.ErrNotFound)
	}
	run.Comment = existing.Comment
	run.StartedAt = existing.StartedAt
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) Run(_ context.Context, id string) (model.ScrapeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return model.ScrapeRun{}, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}
	return run, nil
}

// RunCount returns how many runs have been created.
func (s *MemoryStore) RunCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *MemoryStore) CreateTask(_ context.Context, task model.ScrapeTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.RunID == task.RunID && t.SiteID == task.SiteID {
			return fmt.Errorf("creating task for site %s in run %s: already exists", task.SiteID, task.RunID)
		}
	}
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *MemoryStore) Tasks(_ context.Context, runID string) ([]model.ScrapeTask, error) {
	return s.filterTasks(runID, ""), nil
}

func (s *MemoryStore) ErrorTasks(_ context.Context, runID string) ([]model.ScrapeTask, error) {
	return s.filterTasks(runID, model.TaskError), nil
}

func (s *MemoryStore) filterTasks(runID string, result model.TaskResult) []model.ScrapeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ScrapeTask
	for _, t := range s.tasks {
		if t.RunID != runID {
			continue
		}
		if result != "" && t.Result != result {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (s *MemoryStore) CreatePostings(_ context.Context, postings []model.JobPosting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postings = append(s.postings, postings...)
	return nil
}

func (s *MemoryStore) Postings(_ context.Context, runID string) ([]model.JobPosting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.JobPosting
	for _, p := range s.postings {
		if p.RunID == runID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateUsage(_ context.Context, u model.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, u)
	return nil
}

// Usage returns every recorded usage entry.
func (s *MemoryStore) Usage() []model.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.UsageRecord(nil), s.usage...)
}
