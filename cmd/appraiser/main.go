package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"flat_appraisal/internal/app"
	"flat_appraisal/internal/config"
	"flat_appraisal/internal/lib/logger/handlers/slogpretty"
	"flat_appraisal/internal/lib/logger/sl"

	"github.com/jackc/pgx/v5/pgxpool"

	"log/slog"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)
	log.Info("starting appraiser", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Error("invalid database url", sl.Err(err))
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.PoolSize)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("failed to connect to database", sl.Err(err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Error("database is unreachable", sl.Err(err))
		os.Exit(1)
	}

	application, err := app.New(log, pool, cfg)
	if err != nil {
		log.Error("failed to build application", sl.Err(err))
		os.Exit(1)
	}

	application.Scheduler.Start()

	<-ctx.Done()
	log.Info("shutting down")

	application.Scheduler.Stop()
	log.Info("appraiser stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
