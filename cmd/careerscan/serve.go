package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/careerscan/internal/notifier"
	"github.com/amishk599/careerscan/internal/scheduler"
	"github.com/amishk599/careerscan/internal/server"
)

var (
	serveAddr     string
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and websocket progress feed",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "also run scans on the configured cron schedule")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if serveAddr == "" {
		serveAddr = cfg.Server.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := notifier.NewHub(logger)
	go hub.Run(ctx)

	rt, err := setupRuntime(ctx, cfg, false, logger, hub)
	if err != nil {
		logger.Error("failed to set up", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	if serveSchedule {
		sched := scheduler.NewScheduler(rt.orch, cfg.Schedule.Cron, logger)
		go func() {
			if err := sched.Run(ctx); err != nil {
				logger.Error("scheduler error", "error", err)
				stop()
			}
		}()
	}

	srv := server.New(rt.orch, rt.store, hub, logger)
	logger.Info("listening", "addr", serveAddr)
	if err := srv.Listen(ctx, serveAddr); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("goodbye")
	return nil
}
