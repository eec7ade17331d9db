package chunk

import "github.com/vk/chunkforge/internal/stage"

// AdvanceResult reports the outcome of an attempted stage advance.
type AdvanceResult int

const (
	// Advanced means the stage and payload were published.
	Advanced AdvanceResult = iota
	// Stale means the holder was already at or beyond the incoming stage.
	Stale
	// Rejected means the holder is no longer Active (failed or evicted).
	Rejected
)

// Advance publishes a new stage and payload. It is the single publication
// point: a concurrent reader sees either the old state or the fully new one.
// An incoming stage at or below the current one is refused as Stale, which
// guards the monotonic-stage invariant against out-of-order completions.
func (h *Holder) Advance(s stage.Stage, payload *Payload) AdvanceResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != Active {
		return Rejected
	}
	if s <= h.stg {
		return Stale
	}
	h.stg = s
	h.payload = payload
	h.dirty = true
	h.loading = false
	return Advanced
}

// FinishLoad completes a pending persistence load. With found=false the
// holder simply leaves the transient loading state and remains an Empty
// placeholder awaiting generation. A load result never lowers a stage that
// generation has meanwhile surpassed.
func (h *Holder) FinishLoad(found bool, s stage.Stage, payload *Payload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loading = false
	if !found || h.status != Active {
		return
	}
	if s > h.stg {
		h.stg = s
		h.payload = payload
		// Freshly loaded state matches persistence; nothing to flush.
		h.dirty = false
	}
}

// Fail moves the holder to the sticky Failed state, recording the cause.
// A holder that is already failed or evicted keeps its original state.
func (h *Holder) Fail(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != Active {
		return
	}
	h.status = Failed
	h.failure = cause
	h.loading = false
}

// MarkEvicted removes the holder from the active working set. It returns the
// payload and stage to flush, or ok=false when nothing unsaved remains.
func (h *Holder) MarkEvicted() (payload *Payload, s stage.Stage, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	wasDirty := h.dirty && h.status == Active
	if h.status == Active {
		h.status = Evicted
	}
	h.dirty = false
	h.loading = false
	if !wasDirty {
		return nil, stage.Empty, false
	}
	return h.payload, h.stg, true
}

// MarkSaved clears the dirty flag after a successful persistence save.
func (h *Holder) MarkSaved() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirty = false
}
