package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdering(t *testing.T) {
	require.Equal(t, Empty, First())
	require.Equal(t, Full, Last())

	prev := Empty
	for s := StructureStarts; s <= Full; s++ {
		assert.True(t, prev < s, "%v must precede %v", prev, s)
		assert.Equal(t, prev, s.Prev())
		prev = s
	}
	assert.Equal(t, Full, Full.Next())
	assert.Equal(t, Noise, Biomes.Next())
}

func TestPrevOnEmptyPanics(t *testing.T) {
	assert.Panics(t, func() { Empty.Prev() })
}

func TestParseRoundTrip(t *testing.T) {
	for s := Empty; s <= Full; s++ {
		parsed, err := Parse(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := Parse("molten_core")
	assert.Error(t, err)
}

func TestStringOutOfRange(t *testing.T) {
	assert.Equal(t, "stage(99)", Stage(99).String())
	assert.False(t, Stage(99).Valid())
	assert.False(t, Stage(-1).Valid())
}

func TestRadii(t *testing.T) {
	r := DefaultRadii()
	assert.Equal(t, 0, r.Radius(Empty))
	assert.Equal(t, 1, r.Radius(Surface))
	assert.Equal(t, 0, r.Radius(Noise))

	require.NoError(t, r.Override(Surface, 2))
	assert.Equal(t, 2, r.Radius(Surface))

	assert.Error(t, r.Override(Empty, 1))
	assert.Error(t, r.Override(Surface, -1))
	assert.Error(t, r.Override(Stage(42), 1))
}
