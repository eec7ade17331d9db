package persist

import (
	"context"
	"sync"

	"github.com/vk/chunkforge/internal/chunk"
)

// Memory is an ephemeral in-process Store. It backs worlds configured
// without a database path and keeps tests free of filesystem state.
type Memory struct {
	mu   sync.Mutex
	recs map[chunk.Pos]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{recs: make(map[chunk.Pos]Record)}
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, pos chunk.Pos) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[pos]
	if !ok {
		return Record{}, false, nil
	}
	// Hand out a copy; the caller owns what it loads.
	return Record{Stage: rec.Stage, Payload: rec.Payload.Clone()}, true, nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, pos chunk.Pos, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[pos] = Record{Stage: rec.Stage, Payload: rec.Payload.Clone()}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// Len returns the number of saved records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}
