// Package queue holds pending generation tasks in submission order.
//
// Ordering is FIFO by submission sequence number among tasks that are
// currently eligible. A requeued task keeps its original sequence priority
// but only becomes eligible again after its backoff delay elapses, so a
// persistently deferred task cannot busy-spin the workers.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/stage"
)

// Task is one pending generation request.
type Task struct {
	Pos    chunk.Pos
	Target stage.Stage
	// Seq is the submission sequence number; it gives FIFO tie-break and
	// fairness across requeues.
	Seq uint64
	// Retries counts requeues after retryable failures; Deferrals counts
	// requeues on unmet dependencies. The driver budgets the two separately:
	// retries are bounded, deferrals are not.
	Retries   int
	Deferrals int

	// readyAt is the instant the task becomes eligible. Zero means now.
	readyAt time.Time
	// index is the task's position in the heap, maintained by the heap
	// interface methods.
	index int
}

// taskHeap orders tasks by (readyAt, Seq): the task that becomes eligible
// first wins, and among simultaneously eligible tasks the oldest submission
// wins.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].Seq < h[j].Seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Queue is a concurrency-safe delayed FIFO of generation tasks.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  taskHeap
	seq    uint64
	closed bool

	// now is swappable for tests.
	now func() time.Time
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{now: time.Now}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Submit creates a task for (pos, target), assigns it the next submission
// sequence number, and enqueues it as immediately eligible.
func (q *Queue) Submit(pos chunk.Pos, target stage.Stage) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	t := &Task{Pos: pos, Target: target, Seq: q.seq}
	heap.Push(&q.tasks, t)
	q.cond.Broadcast()
	return t
}

// Requeue re-inserts a task that was deferred, contended, or failed
// retryably. The task keeps its sequence number; delay postpones its
// eligibility. Retry accounting is the driver's policy, not the queue's.
func (q *Queue) Requeue(t *Task, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if delay > 0 {
		t.readyAt = q.now().Add(delay)
	} else {
		t.readyAt = time.Time{}
	}
	heap.Push(&q.tasks, t)
	q.cond.Broadcast()
}

// Expedite zeroes the remaining backoff of every queued task parked on pos,
// waking tasks that were waiting for that position to advance.
func (q *Queue) Expedite(pos chunk.Pos) {
	q.mu.Lock()
	defer q.mu.Unlock()
	changed := false
	for _, t := range q.tasks {
		if t.Pos == pos && !t.readyAt.IsZero() {
			t.readyAt = time.Time{}
			changed = true
		}
	}
	if changed {
		heap.Init(&q.tasks)
		q.cond.Broadcast()
	}
}

// Drop removes every queued task for pos, used when the owning holder is
// evicted. It returns the removed tasks so callers can settle their waiters.
func (q *Queue) Drop(pos chunk.Pos) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var dropped []*Task
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if t.Pos == pos {
			dropped = append(dropped, t)
		} else {
			kept = append(kept, t)
		}
	}
	q.tasks = kept
	heap.Init(&q.tasks)
	return dropped
}

// Pop blocks until a task is eligible, then returns the eligible task with
// the lowest sequence number. It returns nil once the queue is closed and
// callers should exit.
func (q *Queue) Pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return nil
		}
		if len(q.tasks) == 0 {
			q.cond.Wait()
			continue
		}
		head := q.tasks[0]
		now := q.now()
		if head.readyAt.IsZero() || !head.readyAt.After(now) {
			return heap.Pop(&q.tasks).(*Task)
		}
		// The head is still backing off. Sleep until it matures, but stay
		// interruptible: a Submit, Expedite, or Close must wake us early.
		wait := head.readyAt.Sub(now)
		q.timedWait(wait)
	}
}

// timedWait releases the lock and waits for either a broadcast or d to
// elapse. Caller must hold q.mu.
func (q *Queue) timedWait(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	q.cond.Wait()
	timer.Stop()
}

// Len returns the number of queued tasks, eligible or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close wakes all blocked Pop calls and makes them return nil. Requeue after
// Close is a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
