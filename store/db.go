// Package store is the durable database of the trace core, on bbolt.
//
// It holds database-backed trace chunks with a per-chunk digest record,
// TraceMetadata records, pending states, and exposes a transaction probe so callers can
// assert that slow work (artifact uploads) never runs inside a database
// transaction.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pithecene-io/joblog/types"
)

var (
	chunksBucket   = []byte("chunks")
	digestsBucket  = []byte("digests")
	metadataBucket = []byte("trace_metadata")
	pendingBucket  = []byte("pending")
)

// DB wraps a bbolt database.
type DB struct {
	db *bolt.DB
}

type txKey struct{}

// Open opens (creating if needed) the database at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{chunksBucket, digestsBucket, metadataBucket, pendingBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store buckets: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Update runs fn in a read-write transaction. The context passed to fn
// carries the transaction, which InTransaction reports.
// Update must not be nested.
func (d *DB) Update(ctx context.Context, fn func(ctx context.Context, tx *bolt.Tx) error) error {
	if InTransaction(ctx) {
		return errors.New("store: nested transaction")
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx), tx)
	})
}

// View runs fn in a read-only transaction.
func (d *DB) View(fn func(tx *bolt.Tx) error) error {
	return d.db.View(fn)
}

// InTransaction reports whether ctx was derived inside DB.Update.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*bolt.Tx)
	return ok
}

// InTransaction implements the archive transaction probe.
func (d *DB) InTransaction(ctx context.Context) bool {
	return InTransaction(ctx)
}

func jobKey(job types.JobID) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(job))
	return k
}

func indexKey(index uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, index)
	return k
}
