package scheduler

import (
	"context"
	"sync"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/stage"
)

// Handle is a requester's view of one (position, target-stage) request. It
// resolves when the holder reaches the target stage or fails. Multiple
// concurrent requesters for the same pair share one unit of work and observe
// the identical result.
type Handle struct {
	pos    chunk.Pos
	target stage.Stage

	once sync.Once
	done chan struct{}
	stg  stage.Stage
	err  error
}

func newHandle(pos chunk.Pos, target stage.Stage) *Handle {
	return &Handle{pos: pos, target: target, done: make(chan struct{})}
}

// Pos returns the requested position.
func (h *Handle) Pos() chunk.Pos { return h.pos }

// Target returns the requested stage.
func (h *Handle) Target() stage.Stage { return h.target }

// Done returns a channel closed when the request resolves.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the resolved stage and error. It must only be called after
// Done is closed.
func (h *Handle) Result() (stage.Stage, error) {
	return h.stg, h.err
}

// Wait blocks until the request resolves or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (stage.Stage, error) {
	select {
	case <-h.done:
		return h.stg, h.err
	case <-ctx.Done():
		return stage.Empty, ctx.Err()
	}
}

func (h *Handle) resolve(stg stage.Stage, err error) {
	h.once.Do(func() {
		h.stg = stg
		h.err = err
		close(h.done)
	})
}

// Request asks for pos to reach target. The returned handle resolves when
// the holder reaches target or enters the sticky failed state. Requests are
// deduplicated: concurrent requests for the same (pos, target) share one
// generation task and one executor invocation per stage transition.
func (d *Driver) Request(ctx context.Context, pos chunk.Pos, target stage.Stage) *Handle {
	h := newHandle(pos, target)
	if !target.Valid() {
		h.resolve(stage.Empty, &GenerationError{Pos: pos, Target: target, Cause: errInvalidTarget(target)})
		return h
	}

	holder := d.store.Materialize(ctx, pos)

	// Fail fast on sticky failures instead of re-attempting doomed work.
	if holder.Status() == chunk.Failed {
		h.resolve(stage.Empty, &GenerationError{Pos: pos, Target: target, Cause: holder.Failure()})
		return h
	}
	// Already satisfied and settled: resolve without touching the queue, so
	// no executor runs for a chunk that is already at or past the target.
	if !holder.Loading() && holder.Status() == chunk.Active && holder.Stage() >= target {
		h.resolve(holder.Stage(), nil)
		return h
	}

	key := requestKey{pos: pos, target: target}
	d.mu.Lock()
	d.waiters[key] = append(d.waiters[key], h)
	submit := !d.pending[key]
	if submit {
		d.pending[key] = true
	}
	d.mu.Unlock()

	if submit {
		d.queue.Submit(pos, target)
	}
	return h
}

// ensureTask submits an internal task for (pos, target) unless one is
// already pending. This is how a cell referenced only as a dependency of
// another cell gets its own generation scheduled.
func (d *Driver) ensureTask(pos chunk.Pos, target stage.Stage) {
	key := requestKey{pos: pos, target: target}
	d.mu.Lock()
	submit := !d.pending[key]
	if submit {
		d.pending[key] = true
	}
	d.mu.Unlock()
	if submit {
		d.queue.Submit(pos, target)
	}
}

// settle resolves and clears every waiter for (pos, target).
func (d *Driver) settle(pos chunk.Pos, target stage.Stage, stg stage.Stage, err error) {
	key := requestKey{pos: pos, target: target}
	d.mu.Lock()
	handles := d.waiters[key]
	delete(d.waiters, key)
	delete(d.pending, key)
	d.mu.Unlock()
	for _, h := range handles {
		h.resolve(stg, err)
	}
}

// settlePos resolves every waiter for any target on pos with the given
// error, used for sticky failures and evictions.
func (d *Driver) settlePos(pos chunk.Pos, err error) {
	d.mu.Lock()
	var handles []*Handle
	for key, hs := range d.waiters {
		if key.pos == pos {
			handles = append(handles, hs...)
			delete(d.waiters, key)
			delete(d.pending, key)
		}
	}
	d.mu.Unlock()
	for _, h := range handles {
		h.resolve(stage.Empty, err)
	}
}

// settleAllPending resolves every outstanding waiter, used on shutdown.
func (d *Driver) settleAllPending(err error) {
	d.mu.Lock()
	var handles []*Handle
	for key, hs := range d.waiters {
		handles = append(handles, hs...)
		delete(d.waiters, key)
		delete(d.pending, key)
	}
	d.mu.Unlock()
	for _, h := range handles {
		h.resolve(stage.Empty, err)
	}
}

// Evict removes pos from the working set. Queued tasks for it are dropped
// without execution; an executor call already in flight is allowed to finish
// and its result is discarded at the commit boundary. Unsaved state is
// flushed to persistence.
func (d *Driver) Evict(ctx context.Context, pos chunk.Pos) error {
	d.queue.Drop(pos)
	d.settlePos(pos, &GenerationError{Pos: pos, Target: stage.Empty, Cause: ErrChunkEvicted})
	// Dependents parked on this position should re-check it now; they will
	// find it absent and re-materialize it rather than wait out a backoff.
	d.wakeParked(pos)
	return d.store.Evict(ctx, pos)
}
