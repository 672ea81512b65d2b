package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openkanban/boardsync/internal/sync"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration file and database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := createDefaultConfig(); err != nil {
			return err
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		log.Printf("Initialized configuration at %s", configPath)
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		var out io.Writer = os.Stderr
		if app.cfg.LogFile != "" {
			out = &lumberjack.Logger{
				Filename:   app.cfg.LogFile,
				MaxSize:    20, // megabytes
				MaxBackups: 3,
				MaxAge:     14, // days
			}
		}
		logger := log.New(out, "[boardsync] ", log.LstdFlags)
		app.logEvents(logger)

		// A crash mid-sync leaves persisted in-progress markers behind; no
		// sync can be running before the scheduler starts, so they are stale.
		if n, err := app.database.ClearStaleSyncMarkers(cmd.Context()); err != nil {
			return err
		} else if n > 0 {
			logger.Printf("Released %d stale sync marker(s)", n)
		}

		scheduler := sync.NewScheduler(app.engine, sync.SchedulerConfig{
			ImportInterval:    time.Duration(app.cfg.ImportTickSeconds) * time.Second,
			AutoCloseInterval: time.Duration(app.cfg.AutoCloseTickSeconds) * time.Second,
			Logger:            logger,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Printf("Scheduler started (import every %ds, auto-close every %ds)",
			app.cfg.ImportTickSeconds, app.cfg.AutoCloseTickSeconds)
		scheduler.Run(ctx)
		logger.Printf("Scheduler stopped")
		return nil
	},
}
