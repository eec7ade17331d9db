// Package worldgen is the reference stage executor: a deterministic,
// seed-driven terrain generator implementing every pipeline transition.
//
// The algorithms are intentionally simple; what matters for the scheduler is
// the contract, and worldgen honors it strictly: Execute is a pure function
// of its inputs, advances exactly one stage, and never mutates the neighbor
// snapshots it is handed.
package worldgen

import (
	"context"
	"fmt"

	"github.com/aquilax/go-perlin"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/stage"
)

// Block ids produced by the generator.
const (
	BlockAir uint16 = iota
	BlockStone
	BlockGrass
	BlockSand
	BlockWater
	BlockSnow
	BlockWood
)

// Sea level and mountain thresholds in block heights.
const (
	seaLevel      = 62
	snowLine      = 96
	terrainScale  = 48
	noiseStretch  = 96.0
	biomeStretch  = 512.0
	caveThreshold = -0.42
)

// Generator implements scheduler.Executor for the full pipeline.
type Generator struct {
	seed    int64
	terrain *perlin.Perlin
	biomes  *perlin.Perlin
	caves   *perlin.Perlin
}

// New creates a generator for the given world seed.
func New(seed int64) *Generator {
	return &Generator{
		seed:    seed,
		terrain: perlin.NewPerlin(2, 2, 3, seed),
		biomes:  perlin.NewPerlin(2, 2, 2, seed+1),
		caves:   perlin.NewPerlin(2, 2, 3, seed+2),
	}
}

// Execute advances current by one stage to target.
func (g *Generator) Execute(_ context.Context, pos chunk.Pos, target stage.Stage, current *chunk.Payload, neighbors []chunk.Snapshot) (*chunk.Payload, error) {
	// Work on a copy: the previous stage's payload stays published until
	// the scheduler commits the result.
	next := current.Clone()
	if next == nil {
		next = chunk.NewPayload()
	}

	switch target {
	case stage.StructureStarts:
		g.planStructures(pos, next)
	case stage.StructureRefs:
		g.referenceStructures(next, neighbors)
	case stage.Biomes:
		g.classifyBiome(pos, next)
	case stage.Noise:
		g.shapeTerrain(pos, next)
	case stage.Surface:
		g.buildSurface(next)
	case stage.Carvers:
		g.carve(pos, next)
	case stage.Features:
		g.placeFeatures(pos, next)
	case stage.Light:
		g.seedLight(next)
	case stage.Full:
		// Finalization: nothing left to compute, the chunk becomes playable.
	default:
		return nil, fmt.Errorf("worldgen: no executor for stage %v", target)
	}
	return next, nil
}

// structureCell mixes the position and world seed into a deterministic hash.
func (g *Generator) structureCell(pos chunk.Pos) uint64 {
	h := uint64(g.seed)
	h ^= uint64(uint32(pos.X)) * 0x9e3779b97f4a7c15
	h ^= uint64(uint32(pos.Z)) * 0xc2b2ae3d27d4eb4f
	h ^= h >> 29
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 32
	return h
}

// planStructures decides which large structures seed in this chunk.
func (g *Generator) planStructures(pos chunk.Pos, p *chunk.Payload) {
	h := g.structureCell(pos)
	// Roughly one chunk in eight hosts a structure start.
	if h%8 == 0 {
		p.StructureSeeds = append(p.StructureSeeds, h)
	}
}

// referenceStructures records neighboring structure starts that reach into
// this chunk, reading the neighbor snapshots without touching them.
func (g *Generator) referenceStructures(p *chunk.Payload, neighbors []chunk.Snapshot) {
	for _, n := range neighbors {
		if n.Payload == nil {
			continue
		}
		p.StructureSeeds = append(p.StructureSeeds, n.Payload.StructureSeeds...)
	}
}

// classifyBiome picks the chunk's dominant biome from low-frequency noise.
func (g *Generator) classifyBiome(pos chunk.Pos, p *chunk.Payload) {
	v := g.biomes.Noise2D(
		float64(pos.X*chunk.Side)/biomeStretch,
		float64(pos.Z*chunk.Side)/biomeStretch,
	)
	switch {
	case v < -0.25:
		p.Biome = 0 // ocean
	case v < 0.0:
		p.Biome = 1 // beach
	case v < 0.35:
		p.Biome = 2 // plains
	default:
		p.Biome = 3 // mountains
	}
}

// shapeTerrain fills the height grid from layered noise.
func (g *Generator) shapeTerrain(pos chunk.Pos, p *chunk.Payload) {
	baseX := float64(pos.X * chunk.Side)
	baseZ := float64(pos.Z * chunk.Side)
	for x := 0; x < chunk.Side; x++ {
		for z := 0; z < chunk.Side; z++ {
			n := g.terrain.Noise2D((baseX+float64(x))/noiseStretch, (baseZ+float64(z))/noiseStretch)
			h := seaLevel + int16(n*terrainScale)
			if p.Biome == 3 {
				h += 20
			}
			p.Heights[x*chunk.Side+z] = h
		}
	}
}

// buildSurface assigns surface blocks from height and biome.
func (g *Generator) buildSurface(p *chunk.Payload) {
	for i, h := range p.Heights {
		switch {
		case h < seaLevel:
			p.Blocks[i] = BlockWater
		case h < seaLevel+2:
			p.Blocks[i] = BlockSand
		case h >= snowLine:
			p.Blocks[i] = BlockSnow
		default:
			p.Blocks[i] = BlockGrass
		}
	}
}

// carve cuts cave entrances where the cave noise dips below the threshold.
func (g *Generator) carve(pos chunk.Pos, p *chunk.Payload) {
	baseX := float64(pos.X * chunk.Side)
	baseZ := float64(pos.Z * chunk.Side)
	for x := 0; x < chunk.Side; x++ {
		for z := 0; z < chunk.Side; z++ {
			n := g.caves.Noise2D((baseX+float64(x))/32.0, (baseZ+float64(z))/32.0)
			if n < caveThreshold {
				i := x*chunk.Side + z
				if p.Blocks[i] != BlockWater {
					p.Blocks[i] = BlockStone
					p.Heights[i] -= 6
				}
			}
		}
	}
}

// placeFeatures plants trees on grass columns picked by the structure hash.
func (g *Generator) placeFeatures(pos chunk.Pos, p *chunk.Payload) {
	h := g.structureCell(pos)
	// A handful of deterministic candidate columns per chunk.
	for i := 0; i < 4; i++ {
		idx := int((h >> (i * 8)) % uint64(chunk.Side*chunk.Side))
		if p.Blocks[idx] == BlockGrass {
			p.Blocks[idx] = BlockWood
		}
	}
}

// seedLight counts the columns that will emit or admit skylight.
func (g *Generator) seedLight(p *chunk.Payload) {
	var seeds uint16
	for _, b := range p.Blocks {
		if b != BlockWater && b != BlockStone {
			seeds++
		}
	}
	p.LightSeeds = seeds
}
