package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	bolt "go.etcd.io/bbolt"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/types"
)

// Chunks is the database-backed chunk.Backend.
// Payloads and digests are written in the same transaction.
type Chunks struct {
	db *DB
}

// NewChunks returns the chunk backend of db.
func NewChunks(db *DB) *Chunks {
	return &Chunks{db: db}
}

// Get implements chunk.Backend.
func (c *Chunks) Get(_ context.Context, job types.JobID, index uint32) (*types.Chunk, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(chunksBucket).Bucket(jobKey(job))
		if b == nil {
			return chunk.ErrNotFound
		}
		v := b.Get(indexKey(index))
		if v == nil {
			return chunk.ErrNotFound
		}
		// bbolt values are only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &types.Chunk{Index: index, Data: data}, nil
}

// Put implements chunk.Backend.
func (c *Chunks) Put(ctx context.Context, job types.JobID, index uint32, data []byte) error {
	digest := make([]byte, 8)
	binary.BigEndian.PutUint32(digest[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(digest[4:8], crc32.ChecksumIEEE(data))

	err := c.db.Update(ctx, func(_ context.Context, tx *bolt.Tx) error {
		cb, err := tx.Bucket(chunksBucket).CreateBucketIfNotExists(jobKey(job))
		if err != nil {
			return err
		}
		dg, err := tx.Bucket(digestsBucket).CreateBucketIfNotExists(jobKey(job))
		if err != nil {
			return err
		}
		if err := cb.Put(indexKey(index), append([]byte(nil), data...)); err != nil {
			return err
		}
		return dg.Put(indexKey(index), digest)
	})
	if err != nil {
		return fmt.Errorf("store: put chunk %d/%d: %w", job, index, err)
	}
	return nil
}

// Delete implements chunk.Backend.
func (c *Chunks) Delete(ctx context.Context, job types.JobID, index uint32) error {
	return c.db.Update(ctx, func(_ context.Context, tx *bolt.Tx) error {
		for _, name := range [][]byte{chunksBucket, digestsBucket} {
			if b := tx.Bucket(name).Bucket(jobKey(job)); b != nil {
				if err := b.Delete(indexKey(index)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// DeleteAll implements chunk.Backend.
func (c *Chunks) DeleteAll(ctx context.Context, job types.JobID) error {
	return c.db.Update(ctx, func(_ context.Context, tx *bolt.Tx) error {
		for _, name := range [][]byte{chunksBucket, digestsBucket} {
			err := tx.Bucket(name).DeleteBucket(jobKey(job))
			if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
		}
		return nil
	})
}

// LastIndex implements chunk.Backend.
func (c *Chunks) LastIndex(_ context.Context, job types.JobID) (uint32, bool, error) {
	var (
		last  uint32
		found bool
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(chunksBucket).Bucket(jobKey(job))
		if b == nil {
			return nil
		}
		k, _ := b.Cursor().Last()
		if k == nil {
			return nil
		}
		last = binary.BigEndian.Uint32(k)
		found = true
		return nil
	})
	return last, found, err
}

// Digests implements chunk.Digester. Keys are big-endian, so cursor order is
// index order.
func (c *Chunks) Digests(_ context.Context, job types.JobID) ([]types.ChunkDigest, error) {
	var digests []types.ChunkDigest
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(digestsBucket).Bucket(jobKey(job))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 4 || len(v) != 8 {
				return fmt.Errorf("malformed digest record for job %d", job)
			}
			digests = append(digests, types.ChunkDigest{
				Index: binary.BigEndian.Uint32(k),
				Size:  binary.BigEndian.Uint32(v[0:4]),
				CRC32: binary.BigEndian.Uint32(v[4:8]),
			})
			return nil
		})
	})
	return digests, err
}

// Verify Chunks implements chunk.Backend and chunk.Digester.
var (
	_ chunk.Backend  = (*Chunks)(nil)
	_ chunk.Digester = (*Chunks)(nil)
)
