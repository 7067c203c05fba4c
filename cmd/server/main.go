package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/docaudit/internal/api"
	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/metrics"
	"github.com/dgallion1/docaudit/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Analysis().Validate(); err != nil {
		log.Error("invalid analysis defaults", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	m := metrics.New()
	built, err := pipeline.BuildServices(cfg, pipeline.BuildOptions{Metrics: m}, log)
	if err != nil {
		log.Error("service setup failed", "error", err)
		os.Exit(1)
	}
	if built.Sidecar != nil {
		hctx, hcancel := context.WithTimeout(ctx, 5*time.Second)
		if err := built.Sidecar.Health(hctx); err != nil {
			log.Warn("side-car not reachable, server highlighting will fall back", "url", cfg.SidecarURL, "error", err)
		}
		hcancel()
	}

	// Initialize pipeline.
	orch, err := pipeline.NewOrchestrator(cfg, built.Services, log)
	if err != nil {
		log.Error("pipeline setup failed", "error", err)
		os.Exit(1)
	}
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, built.Stats, m, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)

		built.Close()
	}()

	log.Info("starting docaudit", "port", cfg.Port, "model", cfg.AnalysisModel, "workers", cfg.WorkerCount)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
