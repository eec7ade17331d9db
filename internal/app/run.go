package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/ctxlog"
	"github.com/vk/chunkforge/internal/scheduler"
)

// Run generates the configured region to the target stage and blocks until
// every chunk either reaches it or fails.
func (a *App) Run(ctx context.Context, opts *Options) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	defer func() {
		if err := a.persistence.Close(); err != nil {
			a.logger.Error("Closing persistence failed.", "error", err)
		}
	}()

	if opts.HealthcheckPort > 0 {
		a.startHealthcheckServer(opts.HealthcheckPort)
	}

	center := chunk.Pos{X: opts.CenterX, Z: opts.CenterZ}
	region := append(center.Ring(opts.Radius), center)
	a.logger.Info("🌍 Generating region.",
		"world", a.cfg.World.Name, "center", center.String(), "chunks", len(region),
		"target", a.target.String(), "workers", a.cfg.Scheduler.Workers)

	a.driver.Start(ctx)
	defer a.driver.Close()

	handles := make([]*scheduler.Handle, 0, len(region))
	for _, pos := range region {
		handles = append(handles, a.driver.Request(ctx, pos, a.target))
	}

	var failed int
	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			a.logger.Error("Chunk did not reach target.", "pos", h.Pos().String(), "error", err)
		}
	}

	if err := a.store.Flush(ctx); err != nil {
		return fmt.Errorf("flushing world: %w", err)
	}

	stats := a.driver.Stats()
	a.logger.Info("🏁 Region generation finished.",
		"completed", stats.Completed, "deferred", stats.Deferred,
		"retried", stats.Retried, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d chunks failed to reach %v", failed, len(region), a.target)
	}
	return nil
}
