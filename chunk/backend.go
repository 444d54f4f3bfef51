// Package chunk defines the chunk storage boundary of the trace core.
//
// A Backend stores the chunks of a job's live trace by index. Variants are
// selected per deployment: Memory for tests and single-process use, a
// redis-backed cache (chunk/redis), a local filesystem store (chunk/fs), a
// bbolt database (store) and Tiered, which combines a fast store with a
// durable one.
package chunk

import (
	"context"
	"errors"

	"github.com/pithecene-io/joblog/types"
)

// ErrNotFound is returned by Get when no chunk exists at an index.
var ErrNotFound = errors.New("chunk not found")

// Backend is an ordered collection of trace chunks addressed by index.
//
// Implementations must make Put atomic from a reader's perspective: a
// concurrent Get observes either the previous or the new payload, never a
// mix of both.
type Backend interface {
	// Get returns the chunk at index, or ErrNotFound.
	Get(ctx context.Context, job types.JobID, index uint32) (*types.Chunk, error)

	// Put stores data as the chunk at index, replacing any previous payload.
	// The backend keeps its own copy of data.
	Put(ctx context.Context, job types.JobID, index uint32, data []byte) error

	// Delete removes the chunk at index. Deleting a missing chunk is not an error.
	Delete(ctx context.Context, job types.JobID, index uint32) error

	// DeleteAll removes every chunk of the job.
	DeleteAll(ctx context.Context, job types.JobID) error

	// LastIndex returns the highest stored index. ok is false when the job
	// has no chunks.
	LastIndex(ctx context.Context, job types.JobID) (index uint32, ok bool, err error)
}

// Digester is implemented by backends that keep a CRC32 and size per chunk
// next to the payload. Digests are returned in index order and must not
// require loading chunk payloads.
type Digester interface {
	Digests(ctx context.Context, job types.JobID) ([]types.ChunkDigest, error)
}
