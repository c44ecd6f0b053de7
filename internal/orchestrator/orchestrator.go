// Package orchestrator drives scan runs: it validates settings, persists run
// and task records, runs sites one at a time and publishes live progress.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/careerscan/internal/config"
	"github.com/amishk599/careerscan/internal/model"
	"github.com/amishk599/careerscan/internal/progress"
)

// SiteRunner processes one site and reports its state transitions to yield.
type SiteRunner interface {
	Run(ctx context.Context, runID string, site model.Site, yield func(model.SiteProgress)) model.SiteOutcome
}

// Orchestrator starts runs and tracks the ones executing in this process.
type Orchestrator struct {
	store    model.Store
	runner   SiteRunner
	progress progress.Store
	notifier model.Notifier
	settings config.Settings
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	runs     map[string]chan struct{} // closed when the run and its events are finished
	finished []string                 // ids of finished runs still in runs, oldest first
	keep     int                      // finished runs that stay waitable
	live     int
}

const keepFinishedRuns = 32

// New creates an orchestrator. notifier may be nil.
func New(
	store model.Store,
	runner SiteRunner,
	progressStore progress.Store,
	notifier model.Notifier,
	settings config.Settings,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    store,
		runner:   runner,
		progress: progressStore,
		notifier: notifier,
		settings: settings,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		runs:     make(map[string]chan struct{}),
		keep:     keepFinishedRuns,
	}
}

// Start begins a run over the active sites in siteIDs (all active sites when
// empty) and returns its id without waiting for it to finish.
func (o *Orchestrator) Start(ctx context.Context, siteIDs []string) (string, error) {
	return o.StartWithComment(ctx, siteIDs, "")
}

// StartWithComment is Start with a free-text comment stored on the run.
func (o *Orchestrator) StartWithComment(ctx context.Context, siteIDs []string, comment string) (string, error) {
	if err := o.settings.Validate(); err != nil {
		return "", err
	}

	sites, err := o.store.ActiveSites(ctx, siteIDs)
	if err != nil {
		return "", fmt.Errorf("loading sites: %w", err)
	}
	if len(sites) == 0 {
		return "", model.ErrNoSites
	}

	run := model.ScrapeRun{
		ID:        uuid.NewString(),
		Status:    model.RunPending,
		Total:     len(sites),
		Comment:   comment,
		StartedAt: o.now(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return "", err
	}
	run.Status = model.RunInProgress
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return "", err
	}

	snap := model.RunProgress{RunID: run.ID, Sites: make([]model.SiteProgress, len(sites))}
	for i, site := range sites {
		snap.Sites[i] = model.SiteProgress{SiteID: site.ID, SiteName: site.Name, State: model.StatePending}
	}

	done := make(chan struct{})
	o.mu.Lock()
	o.runs[run.ID] = done
	o.live++
	o.mu.Unlock()

	events := newEventQueue(o.notifier)
	runCtx := context.WithoutCancel(ctx)
	o.publish(runCtx, snap, events)

	o.logger.Info("run started", "run_id", run.ID, "sites", len(sites), "comment", comment)

	go func() {
		defer func() {
			events.close()
			o.mu.Lock()
			o.live--
			o.retire(run.ID)
			o.mu.Unlock()
			close(done)
		}()
		o.execute(runCtx, run, sites, snap, events)
	}()

	return run.ID, nil
}

// retire marks runID finished and forgets the oldest finished runs beyond
// o.keep. Callers hold o.mu.
func (o *Orchestrator) retire(runID string) {
	o.finished = append(o.finished, runID)
	for len(o.finished) > o.keep {
		delete(o.runs, o.finished[0])
		o.finished = o.finished[1:]
	}
}

// RetryFailed starts a new run over the sites whose task failed in runID.
func (o *Orchestrator) RetryFailed(ctx context.Context, runID string) (string, error) {
	tasks, err := o.store.ErrorTasks(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("loading failed tasks of run %s: %w", runID, err)
	}
	if len(tasks) == 0 {
		return "", model.ErrNoFailures
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.SiteID)
	}
	return o.StartWithComment(ctx, ids, "retry of run "+runID)
}

// Progress returns the latest snapshot of runID, or model.ErrRunNotFound.
func (o *Orchestrator) Progress(ctx context.Context, runID string) (model.RunProgress, error) {
	p, ok, err := o.progress.Get(ctx, runID)
	if err != nil {
		return model.RunProgress{}, err
	}
	if !ok {
		return model.RunProgress{}, model.ErrRunNotFound
	}
	return p, nil
}

// Wait blocks until runID has finished and its events have been delivered.
// Only runs started by this process can be waited on, and only the most
// recent finished ones are remembered.
func (o *Orchestrator) Wait(ctx context.Context, runID string) error {
	o.mu.Lock()
	done, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return model.ErrRunNotFound
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active reports whether any run started by this process is still executing.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.live > 0
}

func (o *Orchestrator) execute(ctx context.Context, run model.ScrapeRun, sites []model.Site, snap model.RunProgress, events *eventQueue) {
	for i, site := range sites {
		started := o.now()
		outcome := o.runner.Run(ctx, run.ID, site, func(p model.SiteProgress) {
			snap.Sites[i] = p
			o.publish(ctx, snap, events)
		})

		task := model.ScrapeTask{
			ID:          uuid.NewString(),
			RunID:       run.ID,
			SiteID:      site.ID,
			Result:      outcome.Result,
			NewPostings: outcome.NewPostings,
			StartedAt:   started,
			CompletedAt: o.now(),
		}
		if outcome.Err != nil {
			task.Error = outcome.Err.Error()
		}
		if err := o.store.CreateTask(ctx, task); err != nil {
			o.logger.Error("failed to record task", "run_id", run.ID, "site", site.Name, "error", err)
		}

		if outcome.Result == model.TaskError {
			run.Failed++
		} else {
			run.Successful++
		}
		run.NewPostings += outcome.NewPostings
		if err := o.store.UpdateRun(ctx, run); err != nil {
			o.logger.Error("failed to update run counters", "run_id", run.ID, "error", err)
		}
	}

	run.Status = model.RunCompleted
	if run.Failed > 0 {
		run.Status = model.RunFailed
	}
	completed := o.now()
	run.CompletedAt = &completed
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.logger.Error("failed to finish run", "run_id", run.ID, "error", err)
	}

	snap.Done = true
	o.publish(ctx, snap, events)
	events.completed(model.CompletionEvent{
		RunID:       run.ID,
		Status:      run.Status,
		NewPostings: run.NewPostings,
		Successful:  run.Successful,
		Failed:      run.Failed,
	})

	o.logger.Info("run finished",
		"run_id", run.ID,
		"status", run.Status,
		"successful", run.Successful,
		"failed", run.Failed,
		"new_postings", run.NewPostings,
	)
}

// publish stores a copy of snap and queues it for the notifier.
func (o *Orchestrator) publish(ctx context.Context, snap model.RunProgress, events *eventQueue) {
	cp := snap.Clone()
	if err := o.progress.Put(ctx, cp); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("failed to store progress", "run_id", snap.RunID, "error", err)
	}
	events.progress(cp.Clone())
}
