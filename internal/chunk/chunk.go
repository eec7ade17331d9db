// Package chunk defines the spatial data model: positions, payloads, and the
// per-position holder that owns a chunk's generation state.
package chunk

import (
	"fmt"

	"github.com/vk/chunkforge/internal/stage"
)

// Pos identifies a chunk column by its integer 2D grid coordinate. It is used
// purely as a map key; no ordering is implied.
type Pos struct {
	X int32
	Z int32
}

// String formats the position as "(x,z)" for logs and errors.
func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Z)
}

// Offset returns the position shifted by (dx, dz).
func (p Pos) Offset(dx, dz int32) Pos {
	return Pos{X: p.X + dx, Z: p.Z + dz}
}

// ChebyshevDist returns the Chebyshev (chessboard) distance between p and o,
// the metric used for stage neighbor radii.
func (p Pos) ChebyshevDist(o Pos) int {
	dx := abs32(p.X - o.X)
	dz := abs32(p.Z - o.Z)
	if dx > dz {
		return int(dx)
	}
	return int(dz)
}

// Ring returns every position within Chebyshev distance radius of p,
// excluding p itself. A radius of 0 yields nil.
func (p Pos) Ring(radius int) []Pos {
	if radius <= 0 {
		return nil
	}
	r := int32(radius)
	out := make([]Pos, 0, (2*radius+1)*(2*radius+1)-1)
	for dx := -r; dx <= r; dx++ {
		for dz := -r; dz <= r; dz++ {
			if dx == 0 && dz == 0 {
				continue
			}
			out = append(out, p.Offset(dx, dz))
		}
	}
	return out
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Side is the block width of a square chunk column.
const Side = 16

// Payload is the generated chunk data. The scheduler treats it as opaque; it
// is produced and consumed only by stage executors and the persistence layer.
type Payload struct {
	// Heights is the per-column terrain height, row-major, Side*Side entries.
	Heights []int16
	// Blocks is the per-column surface block id, row-major, Side*Side entries.
	Blocks []uint16
	// Biome is the dominant biome id of the chunk.
	Biome uint8
	// StructureSeeds are the structure placements planned for this chunk.
	StructureSeeds []uint64
	// LightSeeds counts the light sources seeded during the light stage.
	LightSeeds uint16
}

// NewPayload allocates a payload with zeroed height and block grids.
func NewPayload() *Payload {
	return &Payload{
		Heights: make([]int16, Side*Side),
		Blocks:  make([]uint16, Side*Side),
	}
}

// Clone returns a deep copy. Executors receive neighbor payloads read-only;
// cloning is how mutation of a prior stage's output is kept impossible at
// the commit boundary.
func (p *Payload) Clone() *Payload {
	if p == nil {
		return nil
	}
	out := &Payload{
		Biome:      p.Biome,
		LightSeeds: p.LightSeeds,
	}
	out.Heights = append([]int16(nil), p.Heights...)
	out.Blocks = append([]uint16(nil), p.Blocks...)
	out.StructureSeeds = append([]uint64(nil), p.StructureSeeds...)
	return out
}

// Snapshot pairs a neighbor's position with its payload at the stage the
// scheduler verified. Executors receive these read-only.
type Snapshot struct {
	Pos     Pos
	Stage   stage.Stage
	Payload *Payload
}
