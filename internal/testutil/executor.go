package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/stage"
)

// ExecCall records one stage-executor invocation.
type ExecCall struct {
	Pos       chunk.Pos
	Target    stage.Stage
	Neighbors []chunk.Snapshot
}

// FakeExecutor is an instrumented scheduler.Executor. It records every
// invocation, tracks per-position concurrency, and lets tests script
// failures or per-call assertions through OnExecute.
type FakeExecutor struct {
	// Delay stretches each call, widening race windows in concurrency tests.
	Delay time.Duration
	// OnExecute, when set, runs before the default behavior; a non-nil
	// return becomes the executor's result error.
	OnExecute func(pos chunk.Pos, target stage.Stage, current *chunk.Payload, neighbors []chunk.Snapshot) error

	mu            sync.Mutex
	calls         []ExecCall
	inflight      map[chunk.Pos]int
	maxSamePos    int
	maxConcurrent int
	current       int
}

// NewFakeExecutor creates an instrumented executor.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{inflight: make(map[chunk.Pos]int)}
}

// Execute implements scheduler.Executor.
func (f *FakeExecutor) Execute(_ context.Context, pos chunk.Pos, target stage.Stage, current *chunk.Payload, neighbors []chunk.Snapshot) (*chunk.Payload, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ExecCall{Pos: pos, Target: target, Neighbors: neighbors})
	f.inflight[pos]++
	if f.inflight[pos] > f.maxSamePos {
		f.maxSamePos = f.inflight[pos]
	}
	f.current++
	if f.current > f.maxConcurrent {
		f.maxConcurrent = f.current
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight[pos]--
		f.current--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	if f.OnExecute != nil {
		if err := f.OnExecute(pos, target, current, neighbors); err != nil {
			return nil, err
		}
	}

	next := current.Clone()
	if next == nil {
		next = chunk.NewPayload()
	}
	return next, nil
}

// Calls returns a copy of all recorded invocations.
func (f *FakeExecutor) Calls() []ExecCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecCall(nil), f.calls...)
}

// CallsFor returns the invocations recorded for one position, in order.
func (f *FakeExecutor) CallsFor(pos chunk.Pos) []ExecCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ExecCall
	for _, c := range f.calls {
		if c.Pos == pos {
			out = append(out, c)
		}
	}
	return out
}

// MaxSamePos returns the highest concurrency observed for any single
// position. Anything above 1 is a mutual-exclusion violation.
func (f *FakeExecutor) MaxSamePos() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSamePos
}

// MaxConcurrent returns the highest overall concurrency observed.
func (f *FakeExecutor) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxConcurrent
}
