package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/ctxlog"
	"github.com/vk/chunkforge/internal/occupancy"
	"github.com/vk/chunkforge/internal/persist"
	"github.com/vk/chunkforge/internal/queue"
	"github.com/vk/chunkforge/internal/stage"
	"github.com/vk/chunkforge/internal/store"
)

// worker is the core processing loop for a single concurrent worker.
func (d *Driver) worker(ctx context.Context, workerID int) {
	defer d.wg.Done()
	logger := ctxlog.FromContext(ctx).With("workerID", workerID)
	logger.Debug("Scheduler worker started.")

	for {
		t := d.queue.Pop()
		if t == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		d.process(ctx, t)
	}
	logger.Debug("Scheduler worker finished.")
}

// process runs one scheduling round for a task: admission, readiness check,
// stage execution, and publication. A task that cannot run now is requeued,
// never dropped.
func (d *Driver) process(ctx context.Context, t *queue.Task) {
	logger := ctxlog.FromContext(ctx).With("pos", t.Pos.String(), "target", t.Target.String())

	holder, ok := d.store.Get(t.Pos)
	if !ok || holder.Status() == chunk.Evicted {
		// The owning cell left the working set while the task was queued:
		// cancellation, not an error.
		logger.Debug("Dropping task for evicted chunk.")
		d.settle(t.Pos, t.Target, stage.Empty, &GenerationError{Pos: t.Pos, Target: t.Target, Cause: ErrChunkEvicted})
		return
	}
	if holder.Status() == chunk.Failed {
		d.settle(t.Pos, t.Target, stage.Empty, &GenerationError{Pos: t.Pos, Target: t.Target, Cause: holder.Failure()})
		return
	}
	if !holder.Loading() && holder.Stage() >= t.Target && !holder.Dirty() {
		// Satisfied and durable, possibly by a load that finished after
		// submission. No executor runs for an already-reached stage. A dirty
		// holder falls through to admission so a save that failed transiently
		// on an earlier pass is re-attempted before the task resolves.
		d.finish(ctx, t, holder.Stage())
		return
	}

	node, admitted := d.occupancy.TryAdmit(t.Pos, t.Target, t.Seq)
	if !admitted {
		// Another worker is generating this position right now. Expected
		// contention: requeue quietly and move on.
		d.queue.Requeue(t, d.cfg.BaseBackoff)
		return
	}

	d.step(ctx, t, node, holder, logger)
}

// step advances the chunk by exactly one pipeline stage toward the task's
// target, with the admission already held.
func (d *Driver) step(ctx context.Context, t *queue.Task, node *occupancy.Node, holder *chunk.Holder, logger *slog.Logger) {
	if holder.Loading() {
		// The chunk's own persistence load is still pending; treat it like
		// any other unmet dependency.
		d.deferTask(ctx, t, node, []chunk.Pos{t.Pos})
		return
	}

	current := holder.Stage()
	if current >= t.Target {
		// A load or a concurrent task satisfied the target between the
		// admission check and here; flush anything unsaved and resolve
		// without running the executor.
		d.conclude(ctx, t, node, current)
		return
	}
	next := current.Next()
	if next > t.Target {
		next = t.Target
	}

	ready, missing, failedDep := d.checkNeighbors(ctx, t.Pos, next)
	if failedDep != nil {
		// A required neighbor is sticky-failed: this cell can never satisfy
		// its dependencies, so its own failure becomes sticky too.
		d.fatal(ctx, t, node, fmt.Errorf("required neighbor %v failed: %w", failedDep.pos, failedDep.err))
		return
	}
	if len(missing) > 0 {
		d.deferTask(ctx, t, node, missing)
		return
	}

	payload, execErr := d.execute(ctx, t.Pos, next, holder, ready)
	if execErr != nil {
		d.fail(ctx, t, node, execErr)
		return
	}

	if err := d.store.Commit(t.Pos, next, payload); err != nil {
		switch {
		case errors.Is(err, store.ErrDiscarded):
			logger.Debug("Chunk evicted mid-generation, result discarded.")
			d.occupancy.Release(node)
			d.settle(t.Pos, t.Target, stage.Empty, &GenerationError{Pos: t.Pos, Target: t.Target, Cause: ErrChunkEvicted})
		case errors.Is(err, store.ErrStaleWrite):
			// Cannot happen while we hold the admission; if it does, the
			// stage already advanced past next, so just keep climbing.
			logger.Warn("Stale commit under admission.", "error", err)
			d.occupancy.Release(node)
			d.queue.Requeue(t, 0)
		default:
			d.fail(ctx, t, node, err)
		}
		return
	}

	logger.Debug("Stage committed.", "stage", next.String())

	// The commit published the new stage; dependents parked on this position
	// can react immediately.
	d.wakeParked(t.Pos)

	if next >= t.Target {
		d.conclude(ctx, t, node, next)
		return
	}
	// More stages to climb; same task, same sequence priority. Release only
	// after the commit published, so a waiting task admitted next sees either
	// the old stage or the fully new one.
	d.occupancy.Release(node)
	d.queue.Requeue(t, 0)
}

// conclude flushes the chunk and resolves the task's waiters. The admission
// stays held across the save so the flushed snapshot cannot move underneath
// it. A save failure routes through the normal retry path, and the
// target-reached fast path in process readmits dirty holders, so the flush
// is re-attempted until the task either persists its result or goes fatal.
func (d *Driver) conclude(ctx context.Context, t *queue.Task, node *occupancy.Node, reached stage.Stage) {
	if err := d.store.Save(ctx, t.Pos); err != nil {
		d.fail(ctx, t, node, err)
		return
	}
	d.occupancy.Release(node)
	d.finish(ctx, t, reached)
}

// failedNeighbor carries a sticky-failed dependency out of the readiness check.
type failedNeighbor struct {
	pos chunk.Pos
	err error
}

// checkNeighbors classifies every position within next's required radius.
// Ready neighbors come back as read-only snapshots at >= next-1; unmet ones
// are materialized and scheduled so the deferral can eventually resolve.
func (d *Driver) checkNeighbors(ctx context.Context, pos chunk.Pos, next stage.Stage) (ready []chunk.Snapshot, missing []chunk.Pos, failed *failedNeighbor) {
	radius := d.radii.Radius(next)
	if radius == 0 {
		return nil, nil, nil
	}
	required := next.Prev()

	for _, npos := range pos.Ring(radius) {
		res := d.store.Peek(npos)
		switch res.State {
		case store.PeekFailed:
			h, _ := d.store.Get(npos)
			err := errors.New("unknown cause")
			if h != nil && h.Failure() != nil {
				err = h.Failure()
			}
			return nil, nil, &failedNeighbor{pos: npos, err: err}
		case store.Absent:
			d.store.Materialize(ctx, npos)
			if required > stage.Empty {
				d.ensureTask(npos, required)
			}
			missing = append(missing, npos)
		case store.Loading:
			if required > stage.Empty {
				d.ensureTask(npos, required)
			}
			missing = append(missing, npos)
		case store.Present:
			if res.Stage < required {
				d.ensureTask(npos, required)
				missing = append(missing, npos)
				continue
			}
			h, ok := d.store.Get(npos)
			if !ok {
				missing = append(missing, npos)
				continue
			}
			ready = append(ready, h.Snapshot())
		}
	}
	if len(missing) > 0 {
		return nil, missing, nil
	}
	return ready, nil, nil
}

// execute invokes the stage executor, converting panics into errors at the
// driver boundary so an executor fault can never terminate the worker loop.
func (d *Driver) execute(ctx context.Context, pos chunk.Pos, next stage.Stage, holder *chunk.Holder, neighbors []chunk.Snapshot) (payload *chunk.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage executor panicked: %v", r)
		}
	}()
	current, _ := holder.Payload()
	return d.exec.Execute(ctx, pos, next, current, neighbors)
}

// deferTask releases the admission, registers the task against its unmet
// dependencies, emits a rate-limited structured warning, and requeues with
// exponential backoff. Missing neighbor data is an expected transient
// condition: the task is never dropped and nothing panics here.
func (d *Driver) deferTask(ctx context.Context, t *queue.Task, node *occupancy.Node, missing []chunk.Pos) {
	d.occupancy.Release(node)
	d.deferred.Add(1)

	d.mu.Lock()
	for _, m := range missing {
		set, ok := d.parked[m]
		if !ok {
			set = make(map[chunk.Pos]struct{})
			d.parked[m] = set
		}
		set[t.Pos] = struct{}{}
	}
	now := time.Now()
	warn := now.Sub(d.lastWarn[t.Pos]) >= d.cfg.WarnInterval
	if warn {
		d.lastWarn[t.Pos] = now
	}
	d.mu.Unlock()

	kind := EventDeferred
	if t.Deferrals >= d.cfg.LivelockThreshold {
		kind = EventLivelockSuspected
	}
	d.emit(Event{Kind: kind, Pos: t.Pos, Target: t.Target, Missing: missing, Deferrals: t.Deferrals})

	if warn {
		logger := ctxlog.FromContext(ctx)
		strs := make([]string, len(missing))
		for i, m := range missing {
			strs[i] = m.String()
		}
		if kind == EventLivelockSuspected {
			logger.Warn("Chunk generation may be livelocked.",
				"pos", t.Pos.String(), "target", t.Target.String(), "missing", strs, "deferrals", t.Deferrals)
		} else {
			logger.Warn("Deferring chunk generation on unmet dependencies.",
				"pos", t.Pos.String(), "target", t.Target.String(), "missing", strs, "deferrals", t.Deferrals)
		}
	}

	t.Deferrals++
	d.queue.Requeue(t, d.backoffFor(t.Deferrals))
}

// fail classifies an executor or persistence error and routes it to the
// retry path or the fatal path.
func (d *Driver) fail(ctx context.Context, t *queue.Task, node *occupancy.Node, cause error) {
	if errors.Is(cause, ErrRetryable) || errors.Is(cause, persist.ErrUnavailable) {
		d.retryOrFail(ctx, t, node, cause)
		return
	}
	d.fatal(ctx, t, node, cause)
}

// retryOrFail requeues a retryably-failed task with backoff, or converts it
// to a fatal failure once the bounded retry budget is spent.
func (d *Driver) retryOrFail(ctx context.Context, t *queue.Task, node *occupancy.Node, cause error) {
	if t.Retries >= d.cfg.MaxRetries {
		d.fatal(ctx, t, node, fmt.Errorf("retry budget exhausted after %d attempts: %w", t.Retries, cause))
		return
	}
	d.occupancy.Release(node)
	d.retried.Add(1)
	t.Retries++
	d.emit(Event{Kind: EventRetried, Pos: t.Pos, Target: t.Target, Retries: t.Retries, Err: cause})
	ctxlog.FromContext(ctx).Warn("Retrying chunk generation after transient failure.",
		"pos", t.Pos.String(), "target", t.Target.String(), "retries", t.Retries, "error", cause)
	d.queue.Requeue(t, d.backoffFor(t.Retries))
}

// fatal marks the holder sticky-failed, releases the admission, and
// propagates a typed failure to every pending requester of the position.
// The rest of the world keeps scheduling.
func (d *Driver) fatal(ctx context.Context, t *queue.Task, node *occupancy.Node, cause error) {
	genErr := &GenerationError{Pos: t.Pos, Target: t.Target, Cause: cause}
	d.store.Fail(t.Pos, genErr)
	d.occupancy.Release(node)
	d.failed.Add(1)
	d.emit(Event{Kind: EventFailed, Pos: t.Pos, Target: t.Target, Retries: t.Retries, Err: cause})
	ctxlog.FromContext(ctx).Error("Chunk generation failed fatally.",
		"pos", t.Pos.String(), "target", t.Target.String(), "error", cause)
	// Tasks parked on this position would otherwise wait out their backoff;
	// wake them so they observe the failed dependency and fail fast.
	d.wakeParked(t.Pos)
	d.settlePos(t.Pos, genErr)
}

// finish resolves the task's waiters with success.
func (d *Driver) finish(_ context.Context, t *queue.Task, reached stage.Stage) {
	d.completed.Add(1)
	d.emit(Event{Kind: EventCompleted, Pos: t.Pos, Target: t.Target, Retries: t.Retries})
	d.settle(t.Pos, t.Target, reached, nil)
}

// wakeParked zeroes the remaining backoff of every task that deferred on
// pos, so dependents react to the new stage within one retry cycle.
func (d *Driver) wakeParked(pos chunk.Pos) {
	d.mu.Lock()
	set := d.parked[pos]
	delete(d.parked, pos)
	d.mu.Unlock()
	for dependent := range set {
		d.queue.Expedite(dependent)
	}
}
