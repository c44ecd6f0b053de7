package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/careerscan/internal/ai"
	"github.com/amishk599/careerscan/internal/browser"
	"github.com/amishk599/careerscan/internal/config"
	"github.com/amishk599/careerscan/internal/model"
	"github.com/amishk599/careerscan/internal/notifier"
	"github.com/amishk599/careerscan/internal/orchestrator"
	"github.com/amishk599/careerscan/internal/pipeline"
	"github.com/amishk599/careerscan/internal/progress"
	"github.com/amishk599/careerscan/internal/ratelimit"
	"github.com/amishk599/careerscan/internal/retry"
	"github.com/amishk599/careerscan/internal/store"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "careerscan",
	Short: "Career page scanner",
	Long:  "careerscan renders company career pages, extracts postings with an LLM and keeps the new ones.",
	// No subcommand runs the scheduler daemon.
	RunE:         runStart,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: CAREERSCAN_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > CAREERSCAN_CONFIG env var > "./config.yaml"
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("CAREERSCAN_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// recordStore is what the commands need from a store implementation.
type recordStore interface {
	model.Store
	SyncCatalog(ctx context.Context, prompts []model.Prompt, sites []model.Site) error
	Sites(ctx context.Context) ([]model.Site, error)
	Run(ctx context.Context, id string) (model.ScrapeRun, error)
	Tasks(ctx context.Context, runID string) ([]model.ScrapeTask, error)
	Postings(ctx context.Context, runID string) ([]model.JobPosting, error)
}

// openStore opens the sqlite store, or an in-memory one for dry runs, and
// syncs the configured catalog into it.
func openStore(ctx context.Context, cfg *config.Config, dryRun bool, logger *slog.Logger) (recordStore, func(), error) {
	var (
		s       recordStore
		cleanup = func() {}
	)
	if dryRun {
		logger.Info("dry-run mode enabled, nothing is persisted")
		s = store.NewMemoryStore()
	} else {
		sqlStore, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		s = sqlStore
		cleanup = func() { sqlStore.Close() }
	}

	prompts, sites := cfg.Catalog()
	if err := s.SyncCatalog(ctx, prompts, sites); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("sync catalog: %w", err)
	}
	return s, cleanup, nil
}

func setupProgress(ctx context.Context, cfg *config.Config, logger *slog.Logger) (progress.Store, func(), error) {
	if cfg.Progress.Backend != "redis" {
		return progress.NewMemoryStore(), func() {}, nil
	}
	rs, err := progress.NewRedisStore(ctx, cfg.Progress.RedisAddr, cfg.Progress.Password, 0)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis progress store", "addr", cfg.Progress.RedisAddr)
	return rs, func() { rs.Close() }, nil
}

func setupNotifier(cfg *config.Config, postings notifier.PostingLister, httpClient *http.Client, logger *slog.Logger, extra ...model.Notifier) model.Notifier {
	fan := notifier.Fanout{notifier.NewLogNotifier(logger)}
	if cfg.Notification.Type == "slack" {
		logger.Info("using slack notifier")
		fan = append(fan, notifier.NewSlackNotifier(cfg.Notification.WebhookURL, httpClient, postings, logger))
	}
	return append(fan, extra...)
}

func setupRunner(cfg *config.Config, s model.Store, logger *slog.Logger) *pipeline.SiteRunner {
	fetcher := browser.NewChromeFetcher(browser.Options{
		NavigationTimeout: cfg.Fetch.NavigationTimeout,
		SelectorTimeout:   cfg.Fetch.SelectorTimeout,
		SettleDelay:       cfg.Fetch.Delay,
		Headless:          cfg.Fetch.Headless,
	}, logger)
	limited := ratelimit.NewRateLimitedFetcher(fetcher, ratelimit.NewHostLimiter(cfg.Fetch.HostMinDelay))

	httpClient := &http.Client{Timeout: cfg.AI.Timeout}
	var provider ai.LLMProvider = ai.NewOpenAIProvider(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, httpClient)
	provider = retry.NewRetryProvider(provider, cfg.AI.MaxRetries, 2*time.Second, logger)
	extractor := ai.NewLLMExtractor(provider, ai.ExtractionTemplate, ai.ExtractionInstructions, logger)

	return pipeline.NewSiteRunner(limited, s, extractor, cfg.AI.Model, logger)
}

// app holds everything a command needs to start and follow runs.
type app struct {
	cfg     *config.Config
	store   recordStore
	orch    *orchestrator.Orchestrator
	closers []func()
}

func (r *app) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// setupRuntime wires store, progress, notifiers and the pipeline into an
// orchestrator. extra notifiers (the websocket hub) join the fanout.
func setupRuntime(ctx context.Context, cfg *config.Config, dryRun bool, logger *slog.Logger, extra ...model.Notifier) (*app, error) {
	rt := &app{cfg: cfg}

	s, closeStore, err := openStore(ctx, cfg, dryRun, logger)
	if err != nil {
		return nil, err
	}
	rt.store = s
	rt.closers = append(rt.closers, closeStore)

	ps, closeProgress, err := setupProgress(ctx, cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeProgress)

	n := setupNotifier(cfg, s, &http.Client{Timeout: 30 * time.Second}, logger, extra...)
	runner := setupRunner(cfg, s, logger)
	rt.orch = orchestrator.New(s, runner, ps, n, cfg.Settings(), logger)
	return rt, nil
}
