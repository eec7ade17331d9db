// Package persist is the persistence collaborator: durable storage of
// generated chunks keyed by position.
//
// Errors are split into two kinds the scheduler treats very differently:
// ErrUnavailable is transient and retryable, ErrCorrupt is fatal and makes
// the affected chunk's failure sticky.
package persist

import (
	"context"
	"errors"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/stage"
)

// ErrUnavailable marks a recoverable I/O failure: the backend could not be
// reached or the operation timed out. Work hitting it may be retried.
var ErrUnavailable = errors.New("persist: backend unavailable")

// ErrCorrupt marks unrecoverable stored data: a record that exists but does
// not decode or validate. Retrying cannot help.
var ErrCorrupt = errors.New("persist: corrupt record")

// Record is one persisted chunk: the stage it had reached and its payload.
type Record struct {
	Stage   stage.Stage
	Payload *chunk.Payload
}

// Store is the interface the chunk store calls on materialize and evict.
type Store interface {
	// Load fetches the record for pos. found is false when the position has
	// never been saved; that is a normal answer, not an error.
	Load(ctx context.Context, pos chunk.Pos) (rec Record, found bool, err error)
	// Save durably writes the record for pos, replacing any previous one.
	Save(ctx context.Context, pos chunk.Pos, rec Record) error
	// Close releases backend resources.
	Close() error
}
