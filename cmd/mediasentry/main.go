// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mediasentry starts the MediaSentry media integrity service.
//
// The service watches configured media libraries for corruption: it
// discovers files, probes them with ffmpeg/ffprobe/imagemagick, and
// serves results plus operational controls over HTTP.
//
// # Environment Variables
//
//   - MEDIASENTRY_PORT: HTTP server port (default: 8310)
//   - MEDIASENTRY_SCAN_ROOTS: comma-separated absolute scan roots
//   - MEDIASENTRY_MAX_WORKERS: concurrent probe workers (default: 4)
//   - MEDIASENTRY_FILE_LIMIT: cap on new files per scan (default: unlimited)
//   - MEDIASENTRY_DATABASE_URL: SQLite URL (default: file:mediasentry.db)
//   - MEDIASENTRY_LOG_DIR: enables file logging when set
//   - MEDIASENTRY_TIMEZONE: IANA zone for report timestamps (default: UTC)
//
// # Usage
//
//	# Build
//	go build -o mediasentry ./cmd/mediasentry
//
//	# Run
//	MEDIASENTRY_SCAN_ROOTS=/media/movies ./mediasentry serve
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/mediasentry/pkg/logging"
	"github.com/AleutianAI/mediasentry/services/api"
	"github.com/AleutianAI/mediasentry/services/catalog"
	"github.com/AleutianAI/mediasentry/services/config"
	"github.com/AleutianAI/mediasentry/services/engine"
	"github.com/AleutianAI/mediasentry/services/probe"
	"github.com/AleutianAI/mediasentry/services/scheduler"
	"github.com/AleutianAI/mediasentry/services/telemetry"
)

// version is stamped by the build via -ldflags.
var version = "dev"

var (
	logLevel string
	jsonLogs bool

	rootCmd = &cobra.Command{
		Use:   "mediasentry",
		Short: "Media library integrity scanner",
		Long: `MediaSentry catalogs media libraries and probes every file for
corruption using ffmpeg, ffprobe, and imagemagick. Results, scan
control, and reports are served over HTTP.`,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the scanner and its HTTP API",
		RunE:  runServe,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mediasentry %s (%s)\n", version, runtime.Version())
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs on stderr")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		LogDir:  cfg.LogDir,
		Service: "mediasentry",
		JSON:    jsonLogs,
	})
	defer logger.Close()
	slogger := logger.Slog()

	db, err := catalog.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer db.Close()

	queue := catalog.NewWriteQueue(db, slogger)
	store := catalog.NewStore(db)

	tools := probe.DetectTools(slogger)
	prober := probe.NewProber(tools, store, slogger)

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)

	eng := engine.New(store, queue, prober, metrics, engine.Config{
		Roots:          cfg.ScanRoots,
		MaxWorkers:     cfg.MaxWorkers,
		FileLimit:      cfg.FileLimit,
		ResetBatchSize: cfg.ResetBatchSize,
	}, slogger)

	// Clear anything a dead process left active before accepting work.
	startupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = eng.Recover(startupCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("recovering interrupted operations: %w", err)
	}

	sched := scheduler.New(store, eng, slogger)
	sched.Start()

	server := api.NewServer(api.New(store, eng, cfg, tools, registry, slogger), cfg.Port)

	slogger.Info("mediasentry starting",
		"version", version,
		"port", cfg.Port,
		"scan_roots", cfg.ScanRoots,
		"max_workers", cfg.MaxWorkers,
		"database", cfg.DatabaseURL,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-sigCtx.Done():
		slogger.Info("shutdown signal received")
	}

	// Drain in dependency order: stop accepting requests, stop the
	// scheduler, stop workers, then flush the write queue.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("http shutdown incomplete", "error", err)
	}
	sched.Stop()
	eng.Shutdown()
	queue.Close()

	slogger.Info("mediasentry stopped")
	return nil
}
