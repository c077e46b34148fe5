package scheduler

import (
	"context"
	"fmt"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/lib/logger/sl"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// GridRecomputer — периодический пересчёт сеточных агрегатов.
type GridRecomputer interface {
	Recompute(ctx context.Context) error
}

// Scheduler — обёртка над cron для фоновых задач.
// Реестр задач фиксированный, задачи не пересекаются (cron.SkipIfStillRunning).
type Scheduler struct {
	log  *slog.Logger
	cron *cron.Cron
}

func New(log *slog.Logger, grid GridRecomputer, cfg config.GridConfig) (*Scheduler, error) {
	const op = "scheduler.New"

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	_, err := c.AddFunc(cfg.CronSpec, func() {
		log.Info("grid recompute started")
		if err := grid.Recompute(context.Background()); err != nil {
			log.Error("grid recompute failed", sl.Err(err))
			return
		}
		log.Info("grid recompute finished")
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Scheduler{log: log, cron: c}, nil
}

// Start запускает планировщик в фоне.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop останавливает планировщик и дожидается активных задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}
