package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"slidecast/internal/app"
	"slidecast/internal/http/httpapi"
	"slidecast/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	if os.Getenv("APP_NAME") == "" {
		cfg.AppName = "slidecast-api"
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel).With().Str("cmd", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger, app.RoleAPI)
	if err != nil {
		components.Close()
		logger.Fatal().Err(err).Msg("api: failed to build pipeline")
	}

	// Pick up jobs that were in flight when the previous process stopped.
	if n, err := components.Monitor.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("api: resume monitors failed")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("api: resumed monitors")
	}

	router := httpapi.NewRouter(components.Handlers(), httpapi.Options{
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		DefaultLocale:   cfg.DefaultLocale,
	})
	server := infra.NewHTTPServer(cfg, router, logger)
	if err := server.Run(ctx, cfg.HTTPIdleTimeout); err != nil {
		logger.Error().Err(err).Msg("api: http server stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	components.Shutdown(shutdownCtx)
	logger.Info().Msg("api: stopped")
}
