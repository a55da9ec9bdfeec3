package daemon

import (
	"context"
	"log/slog"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
)

// Scheduler wraps gocron scheduler for the periodic trigger.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.RuntimeError("failed to create scheduler").WithCause(err).Build()
	}
	return &Scheduler{scheduler: s}, nil
}

// ScheduleTrigger registers fn on the cron expression, or on the interval when no
// cron expression is configured. Overlapping runs are skipped.
func (s *Scheduler) ScheduleTrigger(ctx context.Context, cfg config.ScheduleConfig, fn func(context.Context)) (string, error) {
	definition := gocron.DurationJob(cfg.IntervalDuration())
	if cfg.Cron != "" {
		definition = gocron.CronJob(cfg.Cron, false)
	}

	job, err := s.scheduler.NewJob(
		definition,
		gocron.NewTask(func() { fn(ctx) }),
		gocron.WithName("exchange-set-trigger"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", errors.ConfigError("invalid schedule").WithCause(err).
			WithContext("cron", cfg.Cron).
			WithContext("interval", cfg.Interval).
			Build()
	}
	slog.Info("Scheduled trigger registered",
		logfields.ScheduleID(job.ID().String()),
		logfields.ScheduleName(job.Name()),
		slog.String("cron", cfg.Cron),
		slog.String("interval", cfg.IntervalDuration().String()))
	return job.ID().String(), nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}
