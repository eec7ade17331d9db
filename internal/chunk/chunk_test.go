package chunk

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/chunkforge/internal/stage"
)

func TestPosGeometry(t *testing.T) {
	p := Pos{X: 3, Z: -2}
	assert.Equal(t, "(3,-2)", p.String())
	assert.Equal(t, Pos{X: 4, Z: -3}, p.Offset(1, -1))

	assert.Equal(t, 0, p.ChebyshevDist(p))
	assert.Equal(t, 2, p.ChebyshevDist(Pos{X: 5, Z: -1}))
	assert.Equal(t, 7, p.ChebyshevDist(Pos{X: 3, Z: 5}))
}

func TestRing(t *testing.T) {
	assert.Nil(t, Pos{}.Ring(0))

	ring := Pos{}.Ring(1)
	assert.Len(t, ring, 8)
	for _, p := range ring {
		assert.Equal(t, 1, p.ChebyshevDist(Pos{}))
	}
	assert.NotContains(t, ring, Pos{})

	assert.Len(t, Pos{X: 10, Z: 10}.Ring(2), 24)
}

func TestPayloadClone(t *testing.T) {
	p := NewPayload()
	p.Heights[0] = 42
	p.Blocks[1] = 7
	p.Biome = 3
	p.StructureSeeds = []uint64{99}

	c := p.Clone()
	require.Empty(t, cmp.Diff(p, c))

	c.Heights[0] = 1
	c.StructureSeeds[0] = 1
	assert.Equal(t, int16(42), p.Heights[0])
	assert.Equal(t, uint64(99), p.StructureSeeds[0])

	var nilPayload *Payload
	assert.Nil(t, nilPayload.Clone())
}

func TestHolderAdvance(t *testing.T) {
	h := NewHolder(Pos{X: 1, Z: 1}, false)
	require.Equal(t, stage.Empty, h.Stage())
	require.Equal(t, Active, h.Status())

	require.Equal(t, Advanced, h.Advance(stage.StructureStarts, NewPayload()))
	assert.Equal(t, stage.StructureStarts, h.Stage())
	assert.True(t, h.Dirty())

	// Out-of-order completion must not regress the stage.
	assert.Equal(t, Stale, h.Advance(stage.StructureStarts, NewPayload()))
	assert.Equal(t, Stale, h.Advance(stage.Empty, nil))
	assert.Equal(t, stage.StructureStarts, h.Stage())

	require.Equal(t, Advanced, h.Advance(stage.StructureRefs, NewPayload()))
	assert.Equal(t, stage.StructureRefs, h.Stage())
}

func TestHolderFailIsSticky(t *testing.T) {
	h := NewHolder(Pos{}, false)
	cause := errors.New("bad data")
	h.Fail(cause)

	assert.Equal(t, Failed, h.Status())
	assert.Equal(t, cause, h.Failure())
	assert.Equal(t, Rejected, h.Advance(stage.Noise, NewPayload()))

	// A second failure keeps the original cause.
	h.Fail(errors.New("other"))
	assert.Equal(t, cause, h.Failure())
}

func TestHolderLoading(t *testing.T) {
	h := NewHolder(Pos{}, true)
	require.True(t, h.Loading())

	h.FinishLoad(true, stage.Noise, NewPayload())
	assert.False(t, h.Loading())
	assert.Equal(t, stage.Noise, h.Stage())
	// Loaded state is already durable.
	assert.False(t, h.Dirty())
}

func TestHolderLoadNeverRegresses(t *testing.T) {
	h := NewHolder(Pos{}, true)
	require.Equal(t, Advanced, h.Advance(stage.Surface, NewPayload()))

	h.FinishLoad(true, stage.Noise, NewPayload())
	assert.Equal(t, stage.Surface, h.Stage())
}

func TestHolderEviction(t *testing.T) {
	h := NewHolder(Pos{}, false)
	_, _, dirty := h.MarkEvicted()
	assert.False(t, dirty, "clean holder has nothing to flush")
	assert.Equal(t, Evicted, h.Status())

	h2 := NewHolder(Pos{}, false)
	require.Equal(t, Advanced, h2.Advance(stage.Biomes, NewPayload()))
	payload, stg, dirty := h2.MarkEvicted()
	assert.True(t, dirty)
	assert.NotNil(t, payload)
	assert.Equal(t, stage.Biomes, stg)
	assert.Equal(t, Rejected, h2.Advance(stage.Noise, NewPayload()))
}
