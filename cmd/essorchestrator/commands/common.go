package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/exchangeset/internal/config"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
	// Level is shared by every handler installed during the process lifetime so
	// config reloads can change verbosity in place.
	Level *slog.LevelVar
	Out   io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"config.yaml" env:"ESS_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Server  string           `help:"Base URL of a running orchestrator API" default:"http://127.0.0.1:8080" env:"ESS_SERVER"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Daemon  DaemonCmd  `cmd:"" help:"Run the orchestrator: queue consumers, scheduled trigger and HTTP API"`
	Init    InitCmd    `cmd:"" help:"Write a configuration file with default values"`
	Submit  SubmitCmd  `cmd:"" help:"Submit an exchange set job to a running orchestrator"`
	Status  StatusCmd  `cmd:"" help:"Show the status of a job"`
	Events  EventsCmd  `cmd:"" help:"Show the lifecycle timeline of a job"`
	List    ListCmd    `cmd:"" help:"List recent jobs"`
	Trigger TriggerCmd `cmd:"" help:"Trigger a job for the named or every served data standard"`

	level *slog.LevelVar `kong:"-"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	c.level = new(slog.LevelVar)
	if c.Verbose {
		c.level.Set(slog.LevelDebug)
	}
	slog.SetDefault(newLogger(os.Stderr, c.level, config.LogFormatText))
	return nil
}

// Global returns the shared context bound into every command's Run.
func (c *CLI) Global() *Global {
	if c.level == nil {
		c.level = new(slog.LevelVar)
	}
	return &Global{Logger: slog.Default(), Level: c.level, Out: os.Stdout}
}

func newLogger(w io.Writer, level *slog.LevelVar, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// applyLogging switches the default logger to the configured format and level.
// --verbose keeps debug regardless of the file.
func applyLogging(g *Global, cfg *config.Config, verbose bool) *slog.Logger {
	if !verbose {
		g.Level.Set(cfg.Logging.Level.Slog())
	}
	logger := newLogger(os.Stderr, g.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	g.Logger = logger
	return logger
}
