// Package redis implements the cache-backed chunk store on Redis.
//
// Each job's chunks live in one hash keyed by chunk index. Every write
// refreshes the hash TTL; the TTL is the retention window the archival
// retry budget must fit into.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/types"
)

// DefaultTTL is the default retention of live chunks.
const DefaultTTL = 7 * 24 * time.Hour

// DefaultPrefix is the default key prefix.
const DefaultPrefix = "joblog"

// Config configures the redis chunk store.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix namespaces every key (default: joblog).
	Prefix string
	// TTL is the chunk retention window (default 7 days).
	TTL time.Duration
}

// Backend is a chunk.Backend on Redis hashes.
type Backend struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// New creates a redis chunk backend from the given config.
func New(cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis chunk store requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis chunk store: invalid URL: %w", err)
	}
	return NewWithClient(goredis.NewClient(opts), cfg), nil
}

// NewWithClient creates a backend over an existing client.
func NewWithClient(client *goredis.Client, cfg Config) *Backend {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Backend{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}
}

// TTL returns the retention window of stored chunks.
func (b *Backend) TTL() time.Duration { return b.ttl }

// Client returns the underlying redis client.
func (b *Backend) Client() *goredis.Client { return b.client }

func (b *Backend) chunksKey(job types.JobID) string {
	return fmt.Sprintf("%s:trace:%s:chunks", b.prefix, job)
}

// Get implements chunk.Backend.
func (b *Backend) Get(ctx context.Context, job types.JobID, index uint32) (*types.Chunk, error) {
	data, err := b.client.HGet(ctx, b.chunksKey(job), strconv.FormatUint(uint64(index), 10)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, chunk.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get chunk %d/%d: %w", job, index, err)
	}
	return &types.Chunk{Index: index, Data: data}, nil
}

// Put implements chunk.Backend. HSET replaces the field atomically.
func (b *Backend) Put(ctx context.Context, job types.JobID, index uint32, data []byte) error {
	key := b.chunksKey(job)
	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, strconv.FormatUint(uint64(index), 10), data)
		pipe.Expire(ctx, key, b.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: put chunk %d/%d: %w", job, index, err)
	}
	return nil
}

// Delete implements chunk.Backend.
func (b *Backend) Delete(ctx context.Context, job types.JobID, index uint32) error {
	if err := b.client.HDel(ctx, b.chunksKey(job), strconv.FormatUint(uint64(index), 10)).Err(); err != nil {
		return fmt.Errorf("redis: delete chunk %d/%d: %w", job, index, err)
	}
	return nil
}

// DeleteAll implements chunk.Backend.
func (b *Backend) DeleteAll(ctx context.Context, job types.JobID) error {
	if err := b.client.Del(ctx, b.chunksKey(job)).Err(); err != nil {
		return fmt.Errorf("redis: delete chunks of %d: %w", job, err)
	}
	return nil
}

// LastIndex implements chunk.Backend.
func (b *Backend) LastIndex(ctx context.Context, job types.JobID) (uint32, bool, error) {
	fields, err := b.client.HKeys(ctx, b.chunksKey(job)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis: list chunks of %d: %w", job, err)
	}

	var (
		last  uint64
		found bool
	)
	for _, f := range fields {
		idx, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return 0, false, fmt.Errorf("redis: malformed chunk field %q: %w", f, err)
		}
		if !found || idx > last {
			last = idx
			found = true
		}
	}
	return uint32(last), found, nil
}

// Close releases the redis client.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Verify Backend implements chunk.Backend.
var _ chunk.Backend = (*Backend)(nil)
