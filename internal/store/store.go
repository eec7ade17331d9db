package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/ctxlog"
	"github.com/vk/chunkforge/internal/persist"
	"github.com/vk/chunkforge/internal/stage"
)

// ErrStaleWrite is returned by Commit when the holder's stage is already at
// or beyond the incoming stage. It guards the monotonic-stage invariant
// against out-of-order completions.
var ErrStaleWrite = errors.New("store: stale write, holder already at or beyond incoming stage")

// ErrDiscarded is returned by Commit when the holder left the active set
// while the work was in flight; the result is dropped, not published.
var ErrDiscarded = errors.New("store: holder no longer active, result discarded")

// ErrUnknownChunk is returned for operations on a position that was never
// materialized.
var ErrUnknownChunk = errors.New("store: unknown chunk position")

// loadAttempts bounds the retries of a transiently failing persistence load
// before the holder falls back to an Empty placeholder.
const loadAttempts = 3

// PeekState classifies a Peek answer.
type PeekState int

const (
	// Absent means no holder is resident for the position.
	Absent PeekState = iota
	// Loading means a holder exists but its persistence load is pending.
	Loading
	// Present means the holder carries a defined stage.
	Present
	// PeekFailed means the holder is in the sticky failed state.
	PeekFailed
)

// PeekResult is the answer to a non-blocking lookup.
type PeekResult struct {
	State PeekState
	// Stage is meaningful only when State == Present.
	Stage stage.Stage
}

// Store is the resident set of chunk holders. All methods are safe for
// concurrent use.
type Store struct {
	persistence persist.Store

	mu      sync.Mutex
	holders map[chunk.Pos]*chunk.Holder
	// loadWG tracks outstanding async loads, so Close can wait for them.
	loadWG sync.WaitGroup
}

// New creates a store backed by the given persistence collaborator.
func New(p persist.Store) *Store {
	return &Store{
		persistence: p,
		holders:     make(map[chunk.Pos]*chunk.Holder),
	}
}

// Materialize returns the holder for pos, creating a placeholder at stage
// Empty and triggering an asynchronous load from persistence if the position
// was not already resident. The caller is never blocked on the load; a
// pending load is visible to Peek as the Loading transient state.
func (s *Store) Materialize(ctx context.Context, pos chunk.Pos) *chunk.Holder {
	s.mu.Lock()
	if h, ok := s.holders[pos]; ok {
		s.mu.Unlock()
		return h
	}
	h := chunk.NewHolder(pos, true)
	s.holders[pos] = h
	s.loadWG.Add(1)
	s.mu.Unlock()

	go s.load(ctx, h)
	return h
}

// load resolves a holder's pending persistence load in the background.
func (s *Store) load(ctx context.Context, h *chunk.Holder) {
	defer s.loadWG.Done()
	logger := ctxlog.FromContext(ctx).With("pos", h.Pos().String())

	var lastErr error
	for attempt := 0; attempt < loadAttempts; attempt++ {
		rec, found, err := s.persistence.Load(ctx, h.Pos())
		if err == nil {
			if found {
				h.FinishLoad(true, rec.Stage, rec.Payload)
				logger.Debug("Chunk loaded from persistence.", "stage", rec.Stage.String())
			} else {
				h.FinishLoad(false, stage.Empty, nil)
			}
			return
		}
		if errors.Is(err, persist.ErrCorrupt) {
			logger.Error("Persisted chunk data is corrupt, failing holder.", "error", err)
			h.Fail(fmt.Errorf("loading chunk %v: %w", h.Pos(), err))
			return
		}
		lastErr = err
		select {
		case <-ctx.Done():
			h.FinishLoad(false, stage.Empty, nil)
			return
		case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
		}
	}
	// The load never succeeded but the data is not known bad: fall back to
	// an Empty placeholder so generation can rebuild the chunk.
	logger.Warn("Persistence load failed, treating chunk as ungenerated.", "error", lastErr)
	h.FinishLoad(false, stage.Empty, nil)
}

// Peek is the non-blocking, synchronous lookup used for dependency checks.
// It must never itself trigger generation or loading; re-entrant scheduling
// during a dependency check would deadlock on the position being checked.
func (s *Store) Peek(pos chunk.Pos) PeekResult {
	s.mu.Lock()
	h, ok := s.holders[pos]
	s.mu.Unlock()
	if !ok {
		return PeekResult{State: Absent}
	}
	switch h.Status() {
	case chunk.Failed:
		return PeekResult{State: PeekFailed}
	case chunk.Evicted:
		return PeekResult{State: Absent}
	}
	if h.Loading() {
		return PeekResult{State: Loading}
	}
	return PeekResult{State: Present, Stage: h.Stage()}
}

// Get returns the resident holder for pos without creating one.
func (s *Store) Get(pos chunk.Pos) (*chunk.Holder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holders[pos]
	return h, ok
}

// Commit advances a holder's stage and payload. It is the single publication
// point of a stage transition: a later Peek sees either the old stage or the
// fully new one, never an intermediate.
func (s *Store) Commit(pos chunk.Pos, target stage.Stage, payload *chunk.Payload) error {
	s.mu.Lock()
	h, ok := s.holders[pos]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("committing %v at %v: %w", pos, target, ErrUnknownChunk)
	}
	switch h.Advance(target, payload) {
	case chunk.Advanced:
		return nil
	case chunk.Stale:
		return fmt.Errorf("committing %v at %v (holder at %v): %w", pos, target, h.Stage(), ErrStaleWrite)
	default:
		return fmt.Errorf("committing %v at %v: %w", pos, target, ErrDiscarded)
	}
}

// Fail moves a holder into the sticky failed state, recording the cause.
func (s *Store) Fail(pos chunk.Pos, cause error) {
	s.mu.Lock()
	h, ok := s.holders[pos]
	s.mu.Unlock()
	if ok {
		h.Fail(cause)
	}
}

// Evict removes a holder from the active set, first flushing it to
// persistence if it carries unsaved state.
func (s *Store) Evict(ctx context.Context, pos chunk.Pos) error {
	s.mu.Lock()
	h, ok := s.holders[pos]
	if ok {
		delete(s.holders, pos)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("evicting %v: %w", pos, ErrUnknownChunk)
	}

	payload, stg, dirty := h.MarkEvicted()
	if !dirty {
		return nil
	}
	if err := s.persistence.Save(ctx, pos, persist.Record{Stage: stg, Payload: payload}); err != nil {
		return fmt.Errorf("flushing evicted chunk %v: %w", pos, err)
	}
	return nil
}

// Save flushes a single dirty holder to persistence without evicting it.
// Saving a clean, failed, or absent holder is a no-op.
func (s *Store) Save(ctx context.Context, pos chunk.Pos) error {
	s.mu.Lock()
	h, ok := s.holders[pos]
	s.mu.Unlock()
	if !ok || h.Status() != chunk.Active || !h.Dirty() {
		return nil
	}
	payload, stg := h.Payload()
	if err := s.persistence.Save(ctx, pos, persist.Record{Stage: stg, Payload: payload}); err != nil {
		return fmt.Errorf("saving chunk %v: %w", pos, err)
	}
	h.MarkSaved()
	return nil
}

// Flush saves every dirty active holder to persistence without evicting it.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	holders := make([]*chunk.Holder, 0, len(s.holders))
	for _, h := range s.holders {
		holders = append(holders, h)
	}
	s.mu.Unlock()

	for _, h := range holders {
		if h.Status() != chunk.Active || !h.Dirty() {
			continue
		}
		payload, stg := h.Payload()
		if err := s.persistence.Save(ctx, h.Pos(), persist.Record{Stage: stg, Payload: payload}); err != nil {
			return fmt.Errorf("flushing chunk %v: %w", h.Pos(), err)
		}
		h.MarkSaved()
	}
	return nil
}

// Resident returns the number of holders in the active set.
func (s *Store) Resident() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holders)
}

// WaitLoads blocks until all outstanding asynchronous loads settle. Tests
// use it to remove load/generate races from assertions.
func (s *Store) WaitLoads() {
	s.loadWG.Wait()
}
