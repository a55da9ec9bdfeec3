package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/logfields"
)

// ReloadFunc applies a freshly loaded configuration.
type ReloadFunc func(cfg *config.Config) error

// ConfigWatcher monitors configuration file changes and triggers reloads.
type ConfigWatcher struct {
	configPath   string
	onReload     ReloadFunc
	watcher      *fsnotify.Watcher
	reloadChan   chan struct{}
	debounceTime time.Duration
	stopOnce     sync.Once
}

// NewConfigWatcher creates a new configuration file watcher.
func NewConfigWatcher(configPath string, onReload ReloadFunc) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.RuntimeError("failed to create file watcher").WithCause(err).Build()
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = watcher.Close()
		return nil, errors.ConfigError("failed to resolve config path").WithCause(err).WithContext("path", configPath).Build()
	}

	return &ConfigWatcher{
		configPath:   absPath,
		onReload:     onReload,
		watcher:      watcher,
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Run watches until ctx is cancelled.
func (cw *ConfigWatcher) Run(ctx context.Context) error {
	// The directory is watched because editors replace files on save.
	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		return errors.RuntimeError("failed to watch config directory").WithCause(err).WithContext("dir", configDir).Build()
	}
	defer cw.stop()

	slog.Info("Starting configuration watcher", slog.String("config_path", cw.configPath))
	go cw.reloadLoop(ctx)
	cw.watchLoop(ctx)
	return nil
}

func (cw *ConfigWatcher) stop() {
	cw.stopOnce.Do(func() {
		if err := cw.watcher.Close(); err != nil {
			slog.Error("Error closing file watcher", logfields.Error(err))
		}
	})
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(cw.configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Write), event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Rename):
				slog.Debug("Config file change detected", slog.String("file", event.Name), slog.String("op", event.Op.String()))
				cw.triggerReload()
			case event.Op.Has(fsnotify.Remove):
				slog.Warn("Config file removed", slog.String("file", event.Name))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", logfields.Error(err))
		}
	}
}

func (cw *ConfigWatcher) reloadLoop(ctx context.Context) {
	var reloadTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-cw.reloadChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(cw.debounceTime, func() {
				if err := cw.performReload(); err != nil {
					slog.Error("Failed to reload configuration", logfields.Error(err))
				}
			})
		}
	}
}

func (cw *ConfigWatcher) triggerReload() {
	select {
	case cw.reloadChan <- struct{}{}:
	default:
		// Reload already pending.
	}
}

func (cw *ConfigWatcher) performReload() error {
	slog.Info("Reloading configuration", slog.String("config_path", cw.configPath))

	newConfig, err := config.Load(cw.configPath)
	if err != nil {
		return err
	}
	if err := cw.onReload(newConfig); err != nil {
		return err
	}
	slog.Info("Configuration reloaded successfully")
	return nil
}
