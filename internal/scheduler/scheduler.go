package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/occupancy"
	"github.com/vk/chunkforge/internal/queue"
	"github.com/vk/chunkforge/internal/stage"
	"github.com/vk/chunkforge/internal/store"
)

// Executor is the external stage-executor collaborator. Execute must be a
// pure function of its inputs and must not mutate the neighbor snapshots.
type Executor interface {
	// Execute advances current by exactly one stage to target and returns
	// the new payload. current is nil when the chunk is an Empty placeholder.
	Execute(ctx context.Context, pos chunk.Pos, target stage.Stage, current *chunk.Payload, neighbors []chunk.Snapshot) (*chunk.Payload, error)
}

// Config tunes the driver. Zero values fall back to the defaults below.
type Config struct {
	// Workers is the size of the worker pool; it doubles as the system's
	// backpressure mechanism.
	Workers int
	// MaxRetries bounds requeues after retryable executor/persistence
	// failures. Deferrals on missing dependencies are not bounded by it.
	MaxRetries int
	// BaseBackoff is the first requeue delay; it doubles per attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential requeue delay.
	MaxBackoff time.Duration
	// WarnInterval rate-limits deferral warnings per position.
	WarnInterval time.Duration
	// LivelockThreshold is the deferral count past which a deferral is
	// logged as a suspected livelock rather than a routine wait.
	LivelockThreshold int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 16
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 10 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.WarnInterval <= 0 {
		c.WarnInterval = time.Second
	}
	if c.LivelockThreshold <= 0 {
		c.LivelockThreshold = 50
	}
	return c
}

// requestKey identifies a deduplicated (position, target) request.
type requestKey struct {
	pos    chunk.Pos
	target stage.Stage
}

// Driver is the scheduler control loop: it pulls queued tasks, checks
// neighbor readiness via the chunk store, admits or defers via the
// occupancy graph, invokes the stage executor, and publishes results.
type Driver struct {
	cfg   Config
	store *store.Store
	exec  Executor
	radii stage.Radii

	occupancy *occupancy.Graph
	queue     *queue.Queue

	mu sync.Mutex
	// waiters holds unresolved request handles per (pos, target).
	waiters map[requestKey][]*Handle
	// pending marks keys with a live task (queued or being processed), the
	// dedup that ensures one executor invocation per concurrent request set.
	pending map[requestKey]bool
	// parked maps a position to the positions whose deferred tasks wait on
	// it; a commit expedites those tasks.
	parked map[chunk.Pos]map[chunk.Pos]struct{}
	// lastWarn rate-limits deferral warnings per position.
	lastWarn map[chunk.Pos]time.Time

	observer func(Event)

	completed atomic.Int64
	deferred  atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// New assembles a driver over the given store and stage executor.
func New(st *store.Store, exec Executor, radii stage.Radii, cfg Config) *Driver {
	return &Driver{
		cfg:       cfg.withDefaults(),
		store:     st,
		exec:      exec,
		radii:     radii,
		occupancy: occupancy.New(),
		queue:     queue.New(),
		waiters:   make(map[requestKey][]*Handle),
		pending:   make(map[requestKey]bool),
		parked:    make(map[chunk.Pos]map[chunk.Pos]struct{}),
		lastWarn:  make(map[chunk.Pos]time.Time),
	}
}

// SetObserver installs a hook invoked for every deferral, retry, completion,
// and failure event. Must be called before Start.
func (d *Driver) SetObserver(fn func(Event)) {
	d.observer = fn
}

// Start launches the worker pool. The provided context carries the logger
// and bounds the lifetime of all generation work.
func (d *Driver) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.runCtx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(d.runCtx, i)
	}
}

// Close stops the worker pool and waits for in-flight work to finish. Queued
// tasks that never ran resolve their waiters with ErrShutdown.
func (d *Driver) Close() {
	if d.started.Load() {
		d.cancel()
		d.queue.Close()
		d.wg.Wait()
	}
	d.settleAllPending(ErrShutdown)
}

// backoffFor computes the capped exponential requeue delay for the given
// attempt count, whether that counts deferrals or retryable failures.
func (d *Driver) backoffFor(attempts int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return delay
}

// Stats is a point-in-time snapshot of driver counters.
type Stats struct {
	Queued    int
	InFlight  int
	Resident  int
	Completed int64
	Deferred  int64
	Retried   int64
	Failed    int64
}

// Stats returns current scheduling counters for observability endpoints.
func (d *Driver) Stats() Stats {
	return Stats{
		Queued:    d.queue.Len(),
		InFlight:  d.occupancy.InFlight(),
		Resident:  d.store.Resident(),
		Completed: d.completed.Load(),
		Deferred:  d.deferred.Load(),
		Retried:   d.retried.Load(),
		Failed:    d.failed.Load(),
	}
}

// emit forwards an event to the observer hook, if any.
func (d *Driver) emit(ev Event) {
	if d.observer != nil {
		d.observer(ev)
	}
}
