// Package occupancy tracks which chunk positions currently have an admitted
// generation task. It is the single mutual-exclusion point of the scheduler:
// all generation work begins with TryAdmit and ends with Release, and no
// component may touch a chunk payload for writing while another holds the
// position's reservation.
package occupancy

import (
	"sync"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/stage"
)

// Graph is the set of currently reserved positions. All operations are
// concurrency-safe.
type Graph struct {
	mu sync.Mutex
	// admitted stores the active reservation per position. At most one node
	// may reserve a position at any instant.
	admitted map[chunk.Pos]*Node
}

// Node wraps an admitted task for the duration of its exclusive reservation.
// It is removed from the graph exactly once: on success, on fatal failure,
// on cancellation, or when the task defers and releases before requeueing.
type Node struct {
	pos    chunk.Pos
	target stage.Stage
	seq    uint64

	releaseOnce sync.Once
	graph       *Graph
}

// Pos returns the reserved position.
func (n *Node) Pos() chunk.Pos { return n.pos }

// Target returns the stage the admitted task is driving toward.
func (n *Node) Target() stage.Stage { return n.target }

// Seq returns the admitted task's submission sequence number.
func (n *Node) Seq() uint64 { return n.seq }

// New creates an empty occupancy graph.
func New() *Graph {
	return &Graph{admitted: make(map[chunk.Pos]*Node)}
}

// TryAdmit atomically checks and, if free, reserves pos for the given task.
// It returns (nil, false) when another task already holds the reservation;
// that is expected contention, not an error.
func (g *Graph) TryAdmit(pos chunk.Pos, target stage.Stage, seq uint64) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.admitted[pos]; busy {
		return nil, false
	}
	n := &Node{pos: pos, target: target, seq: seq, graph: g}
	g.admitted[pos] = n
	return n, true
}

// Release removes the node's reservation, unblocking any task waiting on the
// position. Releasing twice is a no-op; the reservation is removed exactly
// once no matter how many paths reach the release.
func (g *Graph) Release(n *Node) {
	if n == nil || n.graph != g {
		return
	}
	n.releaseOnce.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		// Only remove the entry if it is still ours; a stale double release
		// must never evict a successor's reservation.
		if cur, ok := g.admitted[n.pos]; ok && cur == n {
			delete(g.admitted, n.pos)
		}
	})
}

// Held reports whether pos currently has an admitted task. Intended for
// observability and tests, not for admission decisions.
func (g *Graph) Held(pos chunk.Pos) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.admitted[pos]
	return ok
}

// InFlight returns the number of positions currently reserved.
func (g *Graph) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.admitted)
}
