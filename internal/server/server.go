// Package server exposes runs over HTTP: start, retry, progress polling and a
// websocket progress feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/amishk599/careerscan/internal/model"
)

// Runs is the orchestrator surface the API drives.
type Runs interface {
	Start(ctx context.Context, siteIDs []string) (string, error)
	RetryFailed(ctx context.Context, runID string) (string, error)
	Progress(ctx context.Context, runID string) (model.RunProgress, error)
	Active() bool
}

// Records reads persisted runs, tasks and postings.
type Records interface {
	Run(ctx context.Context, id string) (model.ScrapeRun, error)
	Tasks(ctx context.Context, runID string) ([]model.ScrapeTask, error)
	Postings(ctx context.Context, runID string) ([]model.JobPosting, error)
}

// Server wraps a fiber app with the careerscan routes.
type Server struct {
	app     *fiber.App
	runs    Runs
	records Records
	logger  *slog.Logger
}

// New builds the app. ws may be nil to disable the websocket feed.
func New(runs Runs, records Records, ws http.Handler, logger *slog.Logger) *Server {
	s := &Server{runs: runs, records: records, logger: logger}
	s.app = fiber.New(fiber.Config{
		AppName:      "careerscan",
		ErrorHandler: s.handleError,
	})

	s.app.Use(s.accessLog)
	s.app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api")
	api.Post("/runs", s.startRun)
	api.Get("/runs/:id", s.getRun)
	api.Get("/runs/:id/progress", s.getProgress)
	api.Get("/runs/:id/postings", s.getPostings)
	api.Post("/runs/:id/retry", s.retryRun)

	if ws != nil {
		s.app.Get("/ws", adaptor.HTTPHandler(ws))
	}
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	}
}

type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func respond(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(envelope{Status: status, Message: http.StatusText(status), Data: data})
}

type startRequest struct {
	SiteIDs []string `json:"site_ids"`
}

type runCreated struct {
	RunID string `json:"run_id"`
}

func (s *Server) startRun(c fiber.Ctx) error {
	var req startRequest
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	if s.runs.Active() {
		return model.ErrRunActive
	}

	id, err := s.runs.Start(c.Context(), req.SiteIDs)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusAccepted, runCreated{RunID: id})
}

func (s *Server) retryRun(c fiber.Ctx) error {
	if s.runs.Active() {
		return model.ErrRunActive
	}
	id, err := s.runs.RetryFailed(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusAccepted, runCreated{RunID: id})
}

func (s *Server) getProgress(c fiber.Ctx) error {
	p, err := s.runs.Progress(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, p)
}

type taskView struct {
	SiteID      string           `json:"site_id"`
	Result      model.TaskResult `json:"result"`
	NewPostings int              `json:"new_postings"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

type runView struct {
	ID          string          `json:"id"`
	Status      model.RunStatus `json:"status"`
	Total       int             `json:"total"`
	Successful  int             `json:"successful"`
	Failed      int             `json:"failed"`
	NewPostings int             `json:"new_postings"`
	Comment     string          `json:"comment,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Tasks       []taskView      `json:"tasks"`
}

func (s *Server) getRun(c fiber.Ctx) error {
	ctx := c.Context()
	run, err := s.records.Run(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	tasks, err := s.records.Tasks(ctx, run.ID)
	if err != nil {
		return err
	}

	view := runView{
		ID:          run.ID,
		Status:      run.Status,
		Total:       run.Total,
		Successful:  run.Successful,
		Failed:      run.Failed,
		NewPostings: run.NewPostings,
		Comment:     run.Comment,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Tasks:       make([]taskView, 0, len(tasks)),
	}
	for _, t := range tasks {
		view.Tasks = append(view.Tasks, taskView{
			SiteID:      t.SiteID,
			Result:      t.Result,
			NewPostings: t.NewPostings,
			Error:       t.Error,
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
		})
	}
	return respond(c, fiber.StatusOK, view)
}

type postingView struct {
	ID              string                `json:"id"`
	SiteID          string                `json:"site_id"`
	Title           string                `json:"title"`
	URL             string                `json:"url"`
	Location        string                `json:"location"`
	Description     string                `json:"description"`
	Recommendation  string                `json:"recommendation"`
	Recommended     bool                  `json:"recommended"`
	PostedDate      *string               `json:"posted_date"`
	Status          model.JobStatus       `json:"status"`
	DuplicateStatus model.DuplicateStatus `json:"duplicate_status"`
}

func (s *Server) getPostings(c fiber.Ctx) error {
	postings, err := s.records.Postings(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	out := make([]postingView, 0, len(postings))
	for _, p := range postings {
		out = append(out, postingView{
			ID:              p.ID,
			SiteID:          p.SiteID,
			Title:           p.Title,
			URL:             p.URL,
			Location:        p.Location,
			Description:     p.Description,
			Recommendation:  p.Recommendation,
			Recommended:     p.Recommended,
			PostedDate:      p.PostedDate,
			Status:          p.Status,
			DuplicateStatus: p.DuplicateStatus,
		})
	}
	return respond(c, fiber.StatusOK, out)
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var cfgErr *model.ConfigurationError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.As(err, &cfgErr):
		return fiber.StatusPreconditionFailed
	case errors.Is(err, model.ErrRunActive):
		return fiber.StatusConflict
	case errors.Is(err, model.ErrNoSites), errors.Is(err, model.ErrNoFailures):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, model.ErrRunNotFound), errors.Is(err, model.ErrNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		msg = http.StatusText(status)
	}
	return c.Status(status).JSON(envelope{Status: status, Message: msg})
}

func (s *Server) accessLog(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("http request",
		"method", c.Method(),
		"path", c.Path(),
		"duration", time.Since(start),
		"error", err,
	)
	return err
}
