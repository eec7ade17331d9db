// Package store owns per-position chunk state. Holders are lazily
// materialized from persistence or created as placeholders, and leave the
// working set through Evict.
//
// The load-bearing contract here is Peek: it is synchronous, non-blocking,
// and never triggers generation or loading. Dependency checks in the
// scheduler run entirely on Peek, so a momentarily absent neighbor surfaces
// as a normal answer to route into the deferral path, never as a crash.
package store
