package scheduler

import (
	"errors"
	"fmt"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/stage"
)

// ErrRetryable wraps failures worth retrying with backoff. Stage executors
// and collaborators mark recoverable conditions with it; everything else an
// executor returns is classified as fatal for that chunk.
var ErrRetryable = errors.New("scheduler: retryable failure")

// ErrShutdown resolves requests still pending when the driver closes.
var ErrShutdown = errors.New("scheduler: driver shut down")

// ErrChunkEvicted resolves requests whose chunk was evicted before the work
// completed; the task was cancelled or its result discarded.
var ErrChunkEvicted = errors.New("scheduler: chunk evicted")

func errInvalidTarget(s stage.Stage) error {
	return fmt.Errorf("invalid target stage %d", int32(s))
}

// GenerationError is the typed failure propagated to every requester of a
// chunk whose generation failed fatally. The holder's failure is sticky:
// later requests for the position fail fast with the same error.
type GenerationError struct {
	Pos    chunk.Pos
	Target stage.Stage
	Cause  error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generating chunk %v to %v: %v", e.Pos, e.Target, e.Cause)
}

// Unwrap exposes the underlying cause.
func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// EventKind classifies scheduler observability events.
type EventKind int

const (
	// EventDeferred records a task postponed on unmet spatial dependencies.
	EventDeferred EventKind = iota
	// EventLivelockSuspected is a deferral whose deferral count crossed the
	// livelock threshold; sustained emission for one position is the
	// documented signal that the world cannot make progress.
	EventLivelockSuspected
	// EventRetried records a requeue after a retryable failure.
	EventRetried
	// EventCompleted records a chunk reaching a task's target stage.
	EventCompleted
	// EventFailed records a fatal, sticky failure.
	EventFailed
)

// Event is the structured observability record emitted on every deferral,
// retry, completion, and failure.
type Event struct {
	Kind   EventKind
	Pos    chunk.Pos
	Target stage.Stage
	// Missing lists the unmet neighbor positions of a deferral event.
	Missing []chunk.Pos
	// Retries is the task's retryable-failure count; Deferrals its
	// missing-dependency count. The two budgets are independent.
	Retries   int
	Deferrals int
	Err       error
}
