// Package daemon runs the orchestrator as a long-lived process: queue consumers,
// the scheduled trigger, the HTTP API and the config watcher.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"git.home.luguber.info/inful/exchangeset/internal/api"
	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/dispatch"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
	"git.home.luguber.info/inful/exchangeset/internal/queue"
	"git.home.luguber.info/inful/exchangeset/internal/retry"
)

// Service is the orchestrator surface the daemon drives.
type Service interface {
	Process(ctx context.Context, jobID string) (*jobs.Job, error)
	HandleResponse(ctx context.Context, body []byte) (dispatch.Outcome, error)
	TriggerStandards(ctx context.Context, dss []jobs.DataStandard) ([]string, error)
	DataStandards() []jobs.DataStandard
	SetPolicy(p retry.Policy)
}

// Options configure a Daemon. Server, ConfigPath and LogLevel are optional.
type Options struct {
	Config     *config.Config
	Server     *api.Server
	ConfigPath string
	LogLevel   *slog.LevelVar
}

// Daemon supervises the long-running loops.
type Daemon struct {
	svc        Service
	router     *queue.Router
	cfg        *config.Config
	server     *api.Server
	configPath string
	logLevel   *slog.LevelVar
	workers    *semaphore.Weighted
}

// New creates a daemon.
func New(svc Service, router *queue.Router, opts Options) *Daemon {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	concurrency := cfg.Workers.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Daemon{
		svc:        svc,
		router:     router,
		cfg:        cfg,
		server:     opts.Server,
		configPath: opts.ConfigPath,
		logLevel:   opts.LogLevel,
		workers:    semaphore.NewWeighted(int64(concurrency)),
	}
}

// Run starts every loop and blocks until ctx is cancelled or a loop fails fatally.
// Queues, the schedule and the watcher are set up before any loop starts, so a
// misconfiguration is reported without leaving goroutines behind.
func (d *Daemon) Run(ctx context.Context) error {
	poll := d.cfg.Queue.PollIntervalDuration()

	var consumers []*Consumer
	intake, err := d.router.Intake(ctx)
	if err != nil {
		return err
	}
	consumers = append(consumers, NewConsumer(intake, d.handleIntake, d.workers, poll))
	for _, ds := range d.svc.DataStandards() {
		responses, err := d.router.Responses(ctx, ds)
		if err != nil {
			return err
		}
		consumers = append(consumers, NewConsumer(responses, d.handleResponse, d.workers, poll))
	}

	g, gCtx := errgroup.WithContext(ctx)

	var scheduler *Scheduler
	if d.cfg.Schedule.Enabled {
		scheduler, err = NewScheduler()
		if err != nil {
			return err
		}
		standards := scheduledStandards(d.cfg.Schedule)
		if _, err := scheduler.ScheduleTrigger(gCtx, d.cfg.Schedule, func(ctx context.Context) {
			_, _ = d.svc.TriggerStandards(ctx, standards)
		}); err != nil {
			_ = scheduler.Stop()
			return err
		}
	}

	var watcher *ConfigWatcher
	if d.configPath != "" {
		watcher, err = NewConfigWatcher(d.configPath, d.ReloadConfig)
		if err != nil {
			if scheduler != nil {
				_ = scheduler.Stop()
			}
			return err
		}
	}

	for _, c := range consumers {
		g.Go(func() error { return c.Run(gCtx) })
	}

	if scheduler != nil {
		scheduler.Start()
		g.Go(func() error {
			<-gCtx.Done()
			return scheduler.Stop()
		})
	}

	if watcher != nil {
		g.Go(func() error { return watcher.Run(gCtx) })
	}

	if d.server != nil {
		g.Go(func() error {
			slog.Info("Starting API server", slog.String("addr", d.server.Addr))
			return d.server.Start()
		})
		g.Go(func() error {
			<-gCtx.Done()
			slog.Info("Shutting down API server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return d.server.Shutdown(shutdownCtx)
		})
	}

	slog.Info("Daemon running",
		logfields.Environment(d.cfg.Environment),
		slog.Int("workers", d.cfg.Workers.Concurrency),
		slog.Int("consumers", len(consumers)))
	err = g.Wait()
	slog.Info("Daemon stopped")
	return err
}

func (d *Daemon) handleIntake(ctx context.Context, msg *queue.Message) error {
	intake, err := jobs.DecodeIntake(msg.Body)
	if err != nil {
		return err
	}
	_, err = d.svc.Process(ctx, intake.JobID)
	return err
}

func (d *Daemon) handleResponse(ctx context.Context, msg *queue.Message) error {
	_, err := d.svc.HandleResponse(ctx, msg.Body)
	return err
}

// ReloadConfig applies the settings that can change at runtime: the retry policy
// and the log level. Other changes need a restart.
func (d *Daemon) ReloadConfig(cfg *config.Config) error {
	policy := retry.FromConfig(cfg.Retry)
	if err := policy.Validate(); err != nil {
		return err
	}
	d.svc.SetPolicy(policy)
	if d.logLevel != nil {
		d.logLevel.Set(cfg.Logging.Level.Slog())
	}
	if cfg.Workers.Concurrency != d.cfg.Workers.Concurrency ||
		cfg.Queue.Driver != d.cfg.Queue.Driver ||
		cfg.Storage.Driver != d.cfg.Storage.Driver {
		slog.Warn("Worker, queue or storage changes require a restart")
	}
	return nil
}

func scheduledStandards(cfg config.ScheduleConfig) []jobs.DataStandard {
	out := make([]jobs.DataStandard, 0, len(cfg.DataStandards))
	for _, raw := range cfg.DataStandards {
		if ds, err := jobs.ParseDataStandard(raw); err == nil {
			out = append(out, ds)
		}
	}
	return out
}
