package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/daemon"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	NoWatch bool `help:"Do not reload the configuration file when it changes"`
}

func (d *DaemonCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	logger := applyLogging(g, cfg, root.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return runDaemon(ctx, g, cfg, d.configPath(root), logger)
}

func (d *DaemonCmd) configPath(root *CLI) string {
	if d.NoWatch {
		return ""
	}
	return root.Config
}

func runDaemon(ctx context.Context, g *Global, cfg *config.Config, configPath string, logger *slog.Logger) error {
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			logger.Warn("Failed to close runtime", logfields.Error(cerr))
		}
	}()

	logger.Info("Starting orchestrator",
		logfields.Environment(cfg.Environment),
		slog.Any("data_standards", cfg.DataStandards),
		slog.String("storage", string(cfg.Storage.Driver)),
		slog.String("queue", string(cfg.Queue.Driver)),
		slog.Bool("api", rt.server != nil))

	d := daemon.New(rt.service, rt.router, daemon.Options{
		Config:     cfg,
		Server:     rt.server,
		ConfigPath: configPath,
		LogLevel:   g.Level,
	})
	if err := d.Run(ctx); err != nil {
		return err
	}
	logger.Info("Orchestrator stopped")
	return nil
}
