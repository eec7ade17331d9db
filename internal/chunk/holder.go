package chunk

import (
	"sync"

	"github.com/vk/chunkforge/internal/stage"
)

// Status tags a holder's lifecycle state.
type Status int32

const (
	// Active is the normal state: the holder is in the working set.
	Active Status = iota
	// Failed is terminal and sticky: generation of this chunk hit an
	// unrecoverable error and is never retried.
	Failed
	// Evicted means the holder has left the working set; any in-flight
	// result for it is discarded rather than committed.
	Evicted
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Failed:
		return "failed"
	case Evicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Holder owns the generation state for one position. It is created on first
// reference, either by a direct request or as a dependency of another cell.
// A holder's recorded stage never regresses.
//
// All fields are guarded by mu. The holder intentionally exposes no setter
// that could lower the stage; Advance is the only mutation of it.
type Holder struct {
	pos Pos

	mu      sync.Mutex
	stg     stage.Stage
	payload *Payload
	status  Status
	// loading is true while an asynchronous persistence load is pending.
	// A loading holder is a placeholder: it must never be read as if it
	// carried generated data.
	loading bool
	// dirty is true when the holder carries state not yet saved.
	dirty bool
	// failure records the fatal error once status becomes Failed.
	failure error
}

// NewHolder creates a placeholder at stage Empty. If loading is true the
// holder starts in the pending-load transient state.
func NewHolder(pos Pos, loading bool) *Holder {
	return &Holder{pos: pos, stg: stage.Empty, loading: loading}
}

// Pos returns the holder's position.
func (h *Holder) Pos() Pos { return h.pos }

// Stage returns the stage the holder has reached.
func (h *Holder) Stage() stage.Stage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stg
}

// Status returns the holder's lifecycle state.
func (h *Holder) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Loading reports whether an asynchronous persistence load is still pending.
func (h *Holder) Loading() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loading
}

// Dirty reports whether the holder carries unsaved state.
func (h *Holder) Dirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirty
}

// Failure returns the fatal error recorded when the holder entered Failed,
// or nil.
func (h *Holder) Failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failure
}

// Payload returns the holder's payload together with the stage it was
// committed at. The payload is nil until something has been committed.
func (h *Holder) Payload() (*Payload, stage.Stage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.payload, h.stg
}

// Snapshot returns a read-only view of the holder for executor input.
func (h *Holder) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{Pos: h.pos, Stage: h.stg, Payload: h.payload}
}
