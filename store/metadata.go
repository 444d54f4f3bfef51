package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/pithecene-io/joblog/types"
)

// ErrArchivedImmutable is returned when saving over an archived record.
var ErrArchivedImmutable = errors.New("trace metadata is immutable once archived")

// Metadata persists TraceMetadata records, msgpack-encoded.
type Metadata struct {
	db *DB
}

// NewMetadata returns the metadata store of db.
func NewMetadata(db *DB) *Metadata {
	return &Metadata{db: db}
}

// Get returns the metadata of job. A job without a record gets a fresh
// zero-attempt record.
func (m *Metadata) Get(_ context.Context, job types.JobID) (*types.TraceMetadata, error) {
	meta := &types.TraceMetadata{JobID: job}
	err := m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metadataBucket).Get(jobKey(job))
		if v == nil {
			return nil
		}
		return msgpack.Unmarshal(v, meta)
	})
	if err != nil {
		return nil, fmt.Errorf("store: get metadata of %d: %w", job, err)
	}
	return meta, nil
}

// Save writes meta. Overwriting an archived record fails with
// ErrArchivedImmutable.
func (m *Metadata) Save(ctx context.Context, meta *types.TraceMetadata) error {
	encoded, err := msgpack.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: encode metadata: %w", err)
	}

	return m.db.Update(ctx, func(_ context.Context, tx *bolt.Tx) error {
		b := tx.Bucket(metadataBucket)
		key := jobKey(meta.JobID)
		if v := b.Get(key); v != nil {
			var existing types.TraceMetadata
			if err := msgpack.Unmarshal(v, &existing); err != nil {
				return fmt.Errorf("store: decode metadata of %d: %w", meta.JobID, err)
			}
			if existing.Archived() {
				return fmt.Errorf("job %d: %w", meta.JobID, ErrArchivedImmutable)
			}
		}
		return b.Put(key, encoded)
	})
}

// Delete removes the metadata of job, archived or not. Used when a trace is
// erased.
func (m *Metadata) Delete(ctx context.Context, job types.JobID) error {
	return m.db.Update(ctx, func(_ context.Context, tx *bolt.Tx) error {
		return tx.Bucket(metadataBucket).Delete(jobKey(job))
	})
}
