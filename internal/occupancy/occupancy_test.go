package occupancy

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/stage"
)

func TestAdmitAndRelease(t *testing.T) {
	g := New()
	pos := chunk.Pos{X: 1, Z: 2}

	n, ok := g.TryAdmit(pos, stage.Noise, 1)
	require.True(t, ok)
	require.NotNil(t, n)
	assert.Equal(t, pos, n.Pos())
	assert.Equal(t, stage.Noise, n.Target())
	assert.Equal(t, uint64(1), n.Seq())
	assert.True(t, g.Held(pos))

	// Same position is busy regardless of target stage.
	_, ok = g.TryAdmit(pos, stage.Full, 2)
	assert.False(t, ok)

	// Other positions are unaffected.
	other, ok := g.TryAdmit(chunk.Pos{X: 9, Z: 9}, stage.Noise, 3)
	require.True(t, ok)
	assert.Equal(t, 2, g.InFlight())

	g.Release(n)
	assert.False(t, g.Held(pos))
	_, ok = g.TryAdmit(pos, stage.Full, 4)
	assert.True(t, ok)

	g.Release(other)
}

func TestDoubleReleaseIsSafe(t *testing.T) {
	g := New()
	pos := chunk.Pos{X: 0, Z: 0}

	n1, ok := g.TryAdmit(pos, stage.Noise, 1)
	require.True(t, ok)
	g.Release(n1)

	n2, ok := g.TryAdmit(pos, stage.Noise, 2)
	require.True(t, ok)

	// A stale release of the old node must not evict the new reservation.
	g.Release(n1)
	assert.True(t, g.Held(pos))

	g.Release(n2)
	assert.False(t, g.Held(pos))

	g.Release(nil)
}

func TestMutualExclusionUnderContention(t *testing.T) {
	g := New()
	positions := []chunk.Pos{{X: 0, Z: 0}, {X: 0, Z: 1}, {X: 1, Z: 0}}

	var inFlight [3]atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 2000; i++ {
				idx := rng.Intn(len(positions))
				n, ok := g.TryAdmit(positions[idx], stage.Noise, uint64(i))
				if !ok {
					continue
				}
				if inFlight[idx].Add(1) > 1 {
					violations.Add(1)
				}
				inFlight[idx].Add(-1)
				g.Release(n)
			}
		}(int64(w))
	}
	wg.Wait()

	assert.Zero(t, violations.Load(), "two admitted nodes shared a position")
	assert.Zero(t, g.InFlight())
}
