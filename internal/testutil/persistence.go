package testutil

import (
	"context"
	"sync"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/persist"
)

// FakePersistence wraps the in-memory persistence store with call counting
// and scripted errors, for asserting save deduplication and exercising the
// transient/corrupt classification paths.
type FakePersistence struct {
	inner *persist.Memory

	// LoadErr and SaveErr, when set, are returned by every Load/Save call.
	LoadErr error
	SaveErr error

	mu        sync.Mutex
	loads     map[chunk.Pos]int
	saves     map[chunk.Pos]int
	failSaves map[chunk.Pos]int
}

// NewFakePersistence creates an empty counting store.
func NewFakePersistence() *FakePersistence {
	return &FakePersistence{
		inner:     persist.NewMemory(),
		loads:     make(map[chunk.Pos]int),
		saves:     make(map[chunk.Pos]int),
		failSaves: make(map[chunk.Pos]int),
	}
}

// FailNextSave makes the next n Save calls for pos return
// persist.ErrUnavailable, simulating a transient backend outage.
func (f *FakePersistence) FailNextSave(pos chunk.Pos, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSaves[pos] = n
}

// Load implements persist.Store.
func (f *FakePersistence) Load(ctx context.Context, pos chunk.Pos) (persist.Record, bool, error) {
	f.mu.Lock()
	f.loads[pos]++
	err := f.LoadErr
	f.mu.Unlock()
	if err != nil {
		return persist.Record{}, false, err
	}
	return f.inner.Load(ctx, pos)
}

// Save implements persist.Store.
func (f *FakePersistence) Save(ctx context.Context, pos chunk.Pos, rec persist.Record) error {
	f.mu.Lock()
	f.saves[pos]++
	err := f.SaveErr
	if err == nil && f.failSaves[pos] > 0 {
		f.failSaves[pos]--
		err = persist.ErrUnavailable
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.inner.Save(ctx, pos, rec)
}

// Close implements persist.Store.
func (f *FakePersistence) Close() error { return f.inner.Close() }

// Preload seeds a record directly into the backing store.
func (f *FakePersistence) Preload(pos chunk.Pos, rec persist.Record) {
	_ = f.inner.Save(context.Background(), pos, rec)
}

// Saves returns the number of Save calls for pos.
func (f *FakePersistence) Saves(pos chunk.Pos) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[pos]
}

// Loads returns the number of Load calls for pos.
func (f *FakePersistence) Loads(pos chunk.Pos) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[pos]
}
