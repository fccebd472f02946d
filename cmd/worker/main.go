// Command worker polls import jobs and turns bank statement files into
// verified, deduplicated transactions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	importservice "github.com/FACorreiaa/fiskal-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/fiskal-ledger/pkg/config"
	"github.com/FACorreiaa/fiskal-ledger/pkg/cron"
)

const (
	maxDrainPerTick = 10
	shutdownTimeout = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := InitDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	scheduler := cron.NewScheduler(cfg.Worker.PollSchedule, poller(deps.Processor, logger), maxDrainPerTick, logger)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start poll scheduler: %w", err)
	}
	scheduler.RunNow()

	srv := newOpsServer(deps)
	go func() {
		logger.Info("ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// the in-flight import always finishes before the worker exits
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown", "error", err)
	}
	logger.Info("worker stopped")
	return nil
}

// poller adapts the processor to the scheduler. Only an empty queue stops
// a tick's drain loop.
func poller(p *importservice.Processor, logger *slog.Logger) cron.PollFunc {
	return func(ctx context.Context) bool {
		outcome, err := p.ProcessNextImportJob(ctx)
		if err != nil {
			logger.Error("import poll failed", "error", err)
			return false
		}
		return outcome != importservice.OutcomeIdle
	}
}

func newOpsServer(deps *Dependencies) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.DB.Pool.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if deps.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Observability.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
