package chunk

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/joblog/types"
)

// Tiered combines a fast transient store with a durable one.
//
// Partial chunks live in Fast. A chunk that reaches ChunkSize is checkpointed
// into Durable and dropped from Fast, so the fast store only ever holds the
// tail of a live trace. Reads try Fast first and fall back to Durable.
type Tiered struct {
	Fast      Backend
	Durable   Backend
	ChunkSize int
}

// NewTiered creates a tiered backend.
func NewTiered(fast, durable Backend, chunkSize int) *Tiered {
	if chunkSize <= 0 {
		chunkSize = types.DefaultChunkSize
	}
	return &Tiered{Fast: fast, Durable: durable, ChunkSize: chunkSize}
}

// Get implements Backend.
func (t *Tiered) Get(ctx context.Context, job types.JobID, index uint32) (*types.Chunk, error) {
	c, err := t.Fast.Get(ctx, job, index)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fast store: %w", err)
	}
	return t.Durable.Get(ctx, job, index)
}

// Put implements Backend.
// The durable write happens before the fast delete so a reader always finds
// some complete version of the chunk.
func (t *Tiered) Put(ctx context.Context, job types.JobID, index uint32, data []byte) error {
	if len(data) >= t.ChunkSize {
		if err := t.Durable.Put(ctx, job, index, data); err != nil {
			return fmt.Errorf("checkpoint chunk %d: %w", index, err)
		}
		return t.Fast.Delete(ctx, job, index)
	}

	if err := t.Fast.Put(ctx, job, index, data); err != nil {
		return err
	}
	// A truncate may turn a checkpointed chunk back into a partial one.
	return t.Durable.Delete(ctx, job, index)
}

// Delete implements Backend.
func (t *Tiered) Delete(ctx context.Context, job types.JobID, index uint32) error {
	if err := t.Fast.Delete(ctx, job, index); err != nil {
		return err
	}
	return t.Durable.Delete(ctx, job, index)
}

// DeleteAll implements Backend.
func (t *Tiered) DeleteAll(ctx context.Context, job types.JobID) error {
	if err := t.Fast.DeleteAll(ctx, job); err != nil {
		return err
	}
	return t.Durable.DeleteAll(ctx, job)
}

// LastIndex implements Backend.
func (t *Tiered) LastIndex(ctx context.Context, job types.JobID) (uint32, bool, error) {
	fastIdx, fastOK, err := t.Fast.LastIndex(ctx, job)
	if err != nil {
		return 0, false, err
	}
	durIdx, durOK, err := t.Durable.LastIndex(ctx, job)
	if err != nil {
		return 0, false, err
	}
	switch {
	case fastOK && durOK:
		return max(fastIdx, durIdx), true, nil
	case fastOK:
		return fastIdx, true, nil
	default:
		return durIdx, durOK, nil
	}
}

// Verify Tiered implements Backend.
var _ Backend = (*Tiered)(nil)
