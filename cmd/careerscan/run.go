package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/careerscan/internal/model"
	"github.com/amishk599/careerscan/internal/watch"
)

var (
	runSites  []string
	runWatch  bool
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan sites once",
	Long:  "Starts one run over the active sites (or those given with --sites) and waits for it to finish.",
	RunE:  runOnce,
}

var retryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Re-scan the sites that failed in a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, retryCmd} {
		c.Flags().BoolVarP(&runWatch, "watch", "w", false, "show live progress in a terminal view")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().StringSliceVar(&runSites, "sites", nil, "comma-separated site ids (default: all active sites)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use an in-memory store; nothing is persisted")
}

func runOnce(cmd *cobra.Command, args []string) error {
	return startAndFollow(runDryRun, func(ctx context.Context, rt *app) (string, error) {
		return rt.orch.StartWithComment(ctx, runSites, "manual run")
	})
}

func runRetry(cmd *cobra.Command, args []string) error {
	return startAndFollow(false, func(ctx context.Context, rt *app) (string, error) {
		return rt.orch.RetryFailed(ctx, args[0])
	})
}

func startAndFollow(dryRun bool, start func(context.Context, *app) (string, error)) error {
	logger := setupLogger(debug)
	if runWatch {
		// Log output under the alt-screen corrupts the display.
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := setupRuntime(ctx, cfg, dryRun, logger)
	if err != nil {
		logger.Error("failed to set up", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	runID, err := start(ctx, rt)
	if err != nil {
		return err
	}
	logger.Info("run started", "run_id", runID)

	if runWatch {
		if err := watch.Run(runID, rt.orch, rt.store); err != nil {
			return fmt.Errorf("watch: %w", err)
		}
	}

	if err := rt.orch.Wait(ctx, runID); err != nil {
		return fmt.Errorf("waiting for run %s: %w", runID, err)
	}
	return printRun(ctx, rt.store, runID)
}

func printRun(ctx context.Context, s recordStore, runID string) error {
	run, err := s.Run(ctx, runID)
	if err != nil {
		return err
	}
	tasks, err := s.Tasks(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Printf("\nRun %s: %s\n", run.ID, run.Status)
	fmt.Printf("%-25s %-12s %-6s %s\n", "Site", "Result", "New", "Error")
	fmt.Println(strings.Repeat("─", 60))
	for _, t := range tasks {
		fmt.Printf("%-25s %-12s %-6d %s\n", t.SiteID, t.Result, t.NewPostings, t.Error)
	}
	fmt.Printf("\nTotal: %d sites (%d ok, %d failed), %d new postings\n",
		run.Total, run.Successful, run.Failed, run.NewPostings)

	if run.Status == model.RunFailed {
		fmt.Printf("Retry the failed sites with: careerscan retry %s\n", run.ID)
	}
	return nil
}
