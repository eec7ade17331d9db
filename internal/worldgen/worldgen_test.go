package worldgen

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/stage"
)

// runPipeline drives a payload through every stage up to last, bootstrapping
// neighbor snapshots at the previous stage where a transition requires them.
func runPipeline(t *testing.T, g *Generator, pos chunk.Pos, last stage.Stage) *chunk.Payload {
	t.Helper()
	radii := stage.DefaultRadii()

	var payload *chunk.Payload
	for s := stage.Empty; s < last; s = s.Next() {
		target := s.Next()
		var neighbors []chunk.Snapshot
		if r := radii.Radius(target); r > 0 {
			for _, n := range pos.Ring(r) {
				neighbors = append(neighbors, chunk.Snapshot{
					Pos:     n,
					Stage:   s,
					Payload: runPartial(t, g, n, s),
				})
			}
		}
		next, err := g.Execute(context.Background(), pos, target, payload, neighbors)
		require.NoError(t, err)
		payload = next
	}
	return payload
}

// runPartial generates a neighbor payload up to a stage, without recursing
// into that neighbor's own dependencies (the stub stages never read them).
func runPartial(t *testing.T, g *Generator, pos chunk.Pos, last stage.Stage) *chunk.Payload {
	t.Helper()
	var payload *chunk.Payload
	for s := stage.Empty; s < last; s = s.Next() {
		next, err := g.Execute(context.Background(), pos, s.Next(), payload, nil)
		require.NoError(t, err)
		payload = next
	}
	return payload
}

func TestDeterministicForSeed(t *testing.T) {
	pos := chunk.Pos{X: 3, Z: -7}
	a := runPipeline(t, New(42), pos, stage.Full)
	b := runPipeline(t, New(42), pos, stage.Full)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different chunks (-a +b):\n%s", diff)
	}

	c := runPipeline(t, New(43), pos, stage.Full)
	assert.NotEqual(t, a.Heights, c.Heights, "different seeds should diverge")
}

func TestExecuteDoesNotMutateInputs(t *testing.T) {
	g := New(7)
	pos := chunk.Pos{X: 0, Z: 0}

	current := runPartial(t, g, pos, stage.StructureStarts)
	neighborPayload := runPartial(t, g, chunk.Pos{X: 1, Z: 0}, stage.StructureStarts)

	currentBefore := current.Clone()
	neighborBefore := neighborPayload.Clone()

	_, err := g.Execute(context.Background(), pos, stage.StructureRefs, current, []chunk.Snapshot{
		{Pos: chunk.Pos{X: 1, Z: 0}, Stage: stage.StructureStarts, Payload: neighborPayload},
	})
	require.NoError(t, err)

	if diff := cmp.Diff(currentBefore, current); diff != "" {
		t.Errorf("current payload mutated:\n%s", diff)
	}
	if diff := cmp.Diff(neighborBefore, neighborPayload); diff != "" {
		t.Errorf("neighbor snapshot mutated:\n%s", diff)
	}
}

func TestStructureRefsCollectNeighborSeeds(t *testing.T) {
	g := New(1)
	seeds := []uint64{101, 202}
	neighbor := chunk.NewPayload()
	neighbor.StructureSeeds = append(neighbor.StructureSeeds, seeds...)

	out, err := g.Execute(context.Background(), chunk.Pos{}, stage.StructureRefs, chunk.NewPayload(), []chunk.Snapshot{
		{Pos: chunk.Pos{X: 1, Z: 1}, Stage: stage.StructureStarts, Payload: neighbor},
	})
	require.NoError(t, err)
	assert.Subset(t, out.StructureSeeds, seeds)
}

func TestSurfaceBlocksFollowHeights(t *testing.T) {
	g := New(99)
	pos := chunk.Pos{X: -2, Z: 5}
	p := runPipeline(t, g, pos, stage.Surface)

	for i, h := range p.Heights {
		switch {
		case h < seaLevel:
			assert.Equal(t, BlockWater, p.Blocks[i])
		case h >= snowLine:
			assert.Equal(t, BlockSnow, p.Blocks[i])
		}
	}
}

func TestLightSeedsCountOpenColumns(t *testing.T) {
	g := New(5)
	p := chunk.NewPayload()
	p.Blocks[0] = BlockWater
	p.Blocks[1] = BlockStone
	p.Blocks[2] = BlockGrass

	out, err := g.Execute(context.Background(), chunk.Pos{}, stage.Light, p, nil)
	require.NoError(t, err)
	// Every column except the water and stone ones admits light.
	assert.Equal(t, uint16(chunk.Side*chunk.Side-2), out.LightSeeds)
}

func TestUnknownStageIsRejected(t *testing.T) {
	g := New(0)
	_, err := g.Execute(context.Background(), chunk.Pos{}, stage.Stage(99), nil, nil)
	assert.Error(t, err)
}
