package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dcf_valuation/pkg/api/ui"
	"dcf_valuation/pkg/api/valuation"
	"dcf_valuation/pkg/core/config"
	"dcf_valuation/pkg/core/ingest"
	"dcf_valuation/pkg/core/logging"
	"dcf_valuation/pkg/core/metrics"
	"dcf_valuation/pkg/core/pipeline"
	"dcf_valuation/pkg/core/report"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML settings file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "[FATAL] %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load environment variables
	config.LoadDotEnv()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	defaults, err := config.LoadDefaults(cfg.DefaultsFile)
	if err != nil {
		return err
	}

	m := metrics.New()
	loader := ingest.NewLoader(cfg.DataDir, log)
	writer := report.NewWriter(cfg.OutputDir, log)
	planner := pipeline.NewPlanner(loader, writer, log)
	planner.SetMetrics(m)

	// The uploaded / generated dataset is shared by the UI and the JSON API.
	store := ingest.NewStore()

	mux := http.NewServeMux()
	api := valuation.NewHandler(planner, loader, store, defaults, log)
	api.SetMetrics(m)
	api.Register(mux)
	ui.NewHandler(planner, loader, store, defaults, cfg.OutputDir, log).Register(mux)
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", cfg.ListenAddr),
			zap.String("data_dir", cfg.DataDir),
			zap.String("output_dir", cfg.OutputDir))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
