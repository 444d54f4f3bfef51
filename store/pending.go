package store

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/types"
)

// Pending persists PendingState records, msgpack-encoded.
type Pending struct {
	db *DB
}

// NewPending returns the pending-state store of db.
func NewPending(db *DB) *Pending {
	return &Pending{db: db}
}

// Get implements chunk.PendingStore.
func (p *Pending) Get(_ context.Context, job types.JobID) (*types.PendingState, bool, error) {
	var (
		state types.PendingState
		found bool
	)
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(pendingBucket).Get(jobKey(job))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &state)
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: get pending state of %d: %w", job, err)
	}
	if !found {
		return nil, false, nil
	}
	return &state, true, nil
}

// Set implements chunk.PendingStore.
func (p *Pending) Set(ctx context.Context, job types.JobID, state types.PendingState) error {
	encoded, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: encode pending state: %w", err)
	}
	return p.db.Update(ctx, func(_ context.Context, tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).Put(jobKey(job), encoded)
	})
}

// Delete implements chunk.PendingStore.
func (p *Pending) Delete(ctx context.Context, job types.JobID) error {
	return p.db.Update(ctx, func(_ context.Context, tx *bolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete(jobKey(job))
	})
}

var _ chunk.PendingStore = (*Pending)(nil)
