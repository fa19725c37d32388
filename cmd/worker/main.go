package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"slidecast/internal/app"
	"slidecast/internal/infra"
)

// The worker recovers work the api processes dropped: it resumes monitors
// for PROCESSING jobs and republishes completed jobs that never got an asset.
type worker struct {
	components *app.Components
	logger     infra.Logger
	interval   time.Duration
	window     time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	if os.Getenv("APP_NAME") == "" {
		cfg.AppName = "slidecast-worker"
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel).With().Str("cmd", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger, app.RoleWorker)
	if err != nil {
		components.Close()
		logger.Fatal().Err(err).Msg("worker: failed to build pipeline")
	}
	if components.Config.StoreBackend == "memory" {
		logger.Warn().Msg("worker: in-memory stores are not shared with the api process")
	}

	w := &worker{
		components: components,
		logger:     logger,
		interval:   cfg.WorkerSweepInterval,
		window:     cfg.ResultRetention,
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	components.Shutdown(shutdownCtx)
	logger.Info().Msg("worker: stopped")
}

func (w *worker) Run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("worker: started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *worker) tick(ctx context.Context) {
	if n, err := w.components.Monitor.Resume(ctx); err != nil {
		w.logger.Error().Err(err).Msg("worker: resume monitors failed")
	} else if n > 0 {
		w.logger.Info().Int("count", n).Msg("worker: resumed monitors")
	}
	if n, err := w.components.Publisher.Sweep(ctx, w.window); err != nil {
		w.logger.Error().Err(err).Msg("worker: publish sweep failed")
	} else if n > 0 {
		w.logger.Info().Int("count", n).Msg("worker: published completed jobs")
	}
}
