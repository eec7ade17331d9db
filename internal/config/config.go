// Package config loads and validates the world configuration from HCL.
//
// A configuration is a single .hcl file or a directory of .hcl files merged
// in name order. Values may reference environment variables through the
// `env` object, e.g. `path = "${env.HOME}/worlds/overworld.db"`.
package config

import (
	"fmt"
	"time"

	"github.com/vk/chunkforge/internal/stage"
)

// Config is the validated application configuration.
type Config struct {
	World       World
	Persistence Persistence
	Scheduler   Scheduler
	Radii       stage.Radii
}

// World names and seeds the generated world.
type World struct {
	Name string
	Seed int64
}

// Persistence locates the chunk database. An empty path selects the
// in-memory store.
type Persistence struct {
	Path string
}

// Scheduler tunes the generation driver.
type Scheduler struct {
	Workers           int
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	WarnInterval      time.Duration
	LivelockThreshold int
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		World: World{Name: "world", Seed: 0},
		Scheduler: Scheduler{
			Workers:           4,
			MaxRetries:        16,
			BaseBackoff:       10 * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			WarnInterval:      time.Second,
			LivelockThreshold: 50,
		},
		Radii: stage.DefaultRadii(),
	}
}

// validate rejects configurations the driver cannot run with.
func (c *Config) validate() error {
	if c.World.Name == "" {
		return fmt.Errorf("world name must not be empty")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler workers must be > 0, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.MaxRetries <= 0 {
		return fmt.Errorf("scheduler max_retries must be > 0, got %d", c.Scheduler.MaxRetries)
	}
	if c.Scheduler.BaseBackoff <= 0 || c.Scheduler.MaxBackoff < c.Scheduler.BaseBackoff {
		return fmt.Errorf("scheduler backoff range %v..%v is invalid",
			c.Scheduler.BaseBackoff, c.Scheduler.MaxBackoff)
	}
	return nil
}
