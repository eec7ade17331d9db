// Package stage defines the ordered chunk generation pipeline.
//
// A chunk advances through the stages strictly in order, from Empty to Full.
// Each non-initial stage declares a neighbor radius: before a chunk may be
// advanced to stage S, every chunk within Chebyshev distance Radius(S) must
// already have reached at least S-1. The radii are what turn the pipeline
// into a spatial dependency graph.
package stage

import "fmt"

// Stage is one ordered step of the generation pipeline.
type Stage int32

const (
	// Empty is the initial stage of a freshly materialized chunk.
	Empty Stage = iota
	// StructureStarts plans which large structures seed in this chunk.
	StructureStarts
	// StructureRefs records which neighboring structure starts reach into this chunk.
	StructureRefs
	// Biomes classifies the chunk's biome layout.
	Biomes
	// Noise shapes the raw terrain density.
	Noise
	// Surface replaces raw terrain with biome-appropriate surface blocks.
	Surface
	// Carvers cuts caves and ravines.
	Carvers
	// Features places decorations: trees, ores, structure pieces.
	Features
	// Light seeds the initial light propagation.
	Light
	// Full is the terminal stage; the chunk is playable.
	Full
)

// names is indexed by Stage and doubles as the canonical config spelling.
var names = [...]string{
	"empty",
	"structure_starts",
	"structure_refs",
	"biomes",
	"noise",
	"surface",
	"carvers",
	"features",
	"light",
	"full",
}

// defaultRadii is indexed by Stage. Structure planning and feature placement
// reach across chunk borders; the purely local stages need no neighbors.
var defaultRadii = [...]int{
	0, // Empty
	0, // StructureStarts
	1, // StructureRefs
	0, // Biomes
	0, // Noise
	1, // Surface
	1, // Carvers
	1, // Features
	1, // Light
	0, // Full
}

// Count is the number of pipeline stages.
const Count = int(Full) + 1

// First returns the initial pipeline stage.
func First() Stage { return Empty }

// Last returns the terminal pipeline stage.
func Last() Stage { return Full }

// Valid reports whether s names a real pipeline stage.
func (s Stage) Valid() bool {
	return s >= Empty && s <= Full
}

// Prev returns the stage immediately before s. Calling Prev on Empty panics;
// Empty has no prerequisite by definition.
func (s Stage) Prev() Stage {
	if s <= Empty {
		panic(fmt.Sprintf("stage: %v has no predecessor", s))
	}
	return s - 1
}

// Next returns the stage immediately after s, or Full if s is already Full.
func (s Stage) Next() Stage {
	if s >= Full {
		return Full
	}
	return s + 1
}

// String returns the canonical lowercase name of the stage.
func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int32(s))
	}
	return names[s]
}

// Parse resolves a canonical stage name, as used in configuration files.
func Parse(name string) (Stage, error) {
	for i, n := range names {
		if n == name {
			return Stage(i), nil
		}
	}
	return Empty, fmt.Errorf("unknown stage %q", name)
}

// Radii maps each stage to its required neighbor radius. The zero value is
// unusable; construct one with DefaultRadii and apply config overrides.
type Radii [Count]int

// DefaultRadii returns the built-in radius table.
func DefaultRadii() Radii {
	var r Radii
	copy(r[:], defaultRadii[:])
	return r
}

// Radius returns the neighbor radius required to advance a chunk to s.
func (r Radii) Radius(s Stage) int {
	if !s.Valid() {
		return 0
	}
	return r[s]
}

// Override replaces the radius for a single stage. Empty cannot carry a
// radius: nothing is generated to reach it.
func (r *Radii) Override(s Stage, radius int) error {
	if !s.Valid() || s == Empty {
		return fmt.Errorf("stage %v does not accept a radius override", s)
	}
	if radius < 0 {
		return fmt.Errorf("stage %v: radius must be >= 0, got %d", s, radius)
	}
	r[s] = radius
	return nil
}
