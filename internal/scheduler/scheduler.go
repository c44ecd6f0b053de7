package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/amishk599/careerscan/internal/model"
)

// RunStarter is the part of the orchestrator the scheduler drives.
type RunStarter interface {
	StartWithComment(ctx context.Context, siteIDs []string, comment string) (string, error)
	Active() bool
}

// Scheduler starts a scan of every active site on a cron schedule. A tick
// that lands while a run is still executing is skipped.
type Scheduler struct {
	starter RunStarter
	spec    string // cron spec, e.g. "@every 6h"
	logger  *slog.Logger
}

// NewScheduler creates a scheduler for the given cron spec.
func NewScheduler(starter RunStarter, spec string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		starter: starter,
		spec:    spec,
		logger:  logger,
	}
}

// Run starts one immediate scan, then fires on the schedule. It returns nil
// when ctx is cancelled (graceful shutdown).
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.trigger(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.spec, err)
	}

	s.logger.Info("starting scheduler", "schedule", s.spec)

	s.trigger(ctx)
	c.Start()

	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	<-c.Stop().Done()
	return nil
}

// trigger starts a scheduled run unless one is already executing.
func (s *Scheduler) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.starter.Active() {
		s.logger.Info("skipping scheduled scan, previous run still active")
		return
	}

	id, err := s.starter.StartWithComment(ctx, nil, "scheduled")
	switch {
	case errors.Is(err, model.ErrNoSites):
		s.logger.Warn("scheduled scan skipped, no active sites")
	case err != nil:
		s.logger.Error("scheduled scan failed to start", "error", err)
	default:
		s.logger.Info("scheduled scan started", "run_id", id)
	}
}
