// Package app wires configuration, logging, persistence, the chunk store,
// and the scheduler driver into a runnable application.
package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/chunkforge/internal/config"
	"github.com/vk/chunkforge/internal/persist"
	"github.com/vk/chunkforge/internal/scheduler"
	"github.com/vk/chunkforge/internal/stage"
	"github.com/vk/chunkforge/internal/store"
	"github.com/vk/chunkforge/internal/worldgen"
)

// Options holds everything the CLI hands the application.
type Options struct {
	ConfigPath string

	CenterX int32
	CenterZ int32
	Radius  int
	Target  string

	Workers         int
	HealthcheckPort int
	LogFormat       string
	LogLevel        string
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *config.Config
	target stage.Stage

	persistence persist.Store
	store       *store.Store
	driver      *scheduler.Driver
}

// NewApp constructs a fully initialized App: logger, configuration,
// persistence backend, chunk store, and scheduler driver.
func NewApp(outW io.Writer, opts *Options) (*App, error) {
	logger := newLogger(opts.LogLevel, opts.LogFormat, outW)

	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("loading configuration: %w", err)
		}
		cfg = loaded
	}
	if opts.Workers > 0 {
		cfg.Scheduler.Workers = opts.Workers
	}
	logger.Debug("Configuration loaded.", "world", cfg.World.Name, "seed", cfg.World.Seed)

	target, err := stage.Parse(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	var backend persist.Store
	if cfg.Persistence.Path != "" {
		backend, err = persist.OpenSQLite(cfg.Persistence.Path)
		if err != nil {
			return nil, fmt.Errorf("opening persistence: %w", err)
		}
		logger.Debug("SQLite persistence opened.", "path", cfg.Persistence.Path)
	} else {
		backend = persist.NewMemory()
		logger.Debug("Using in-memory persistence.")
	}

	st := store.New(backend)
	driver := scheduler.New(st, worldgen.New(cfg.World.Seed), cfg.Radii, scheduler.Config{
		Workers:           cfg.Scheduler.Workers,
		MaxRetries:        cfg.Scheduler.MaxRetries,
		BaseBackoff:       cfg.Scheduler.BaseBackoff,
		MaxBackoff:        cfg.Scheduler.MaxBackoff,
		WarnInterval:      cfg.Scheduler.WarnInterval,
		LivelockThreshold: cfg.Scheduler.LivelockThreshold,
	})

	return &App{
		outW:        outW,
		logger:      logger,
		cfg:         cfg,
		target:      target,
		persistence: backend,
		store:       st,
		driver:      driver,
	}, nil
}

// Driver exposes the scheduler driver, primarily for tests.
func (a *App) Driver() *scheduler.Driver {
	return a.driver
}
