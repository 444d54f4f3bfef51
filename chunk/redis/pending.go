package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/types"
)

// PendingStore keeps the ingest path's pending state per job next to the
// chunks, with the same retention.
type PendingStore struct {
	b *Backend
}

// NewPendingStore creates a pending-state store sharing the backend's client.
func NewPendingStore(b *Backend) *PendingStore {
	return &PendingStore{b: b}
}

func (s *PendingStore) key(job types.JobID) string {
	return fmt.Sprintf("%s:trace:%s:pending", s.b.prefix, job)
}

// Get returns the pending state of job. ok is false when none was recorded.
func (s *PendingStore) Get(ctx context.Context, job types.JobID) (*types.PendingState, bool, error) {
	vals, err := s.b.client.HMGet(ctx, s.key(job), "crc32", "bytesize").Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: get pending state of %d: %w", job, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, false, nil
	}

	crc, err := parseUint(vals[0], 32)
	if err != nil {
		return nil, false, fmt.Errorf("redis: pending crc32 of %d: %w", job, err)
	}
	size, err := parseUint(vals[1], 64)
	if err != nil {
		return nil, false, fmt.Errorf("redis: pending bytesize of %d: %w", job, err)
	}
	return &types.PendingState{ExpectedCRC32: uint32(crc), ExpectedBytesize: size}, true, nil
}

// Set records the pending state of job.
func (s *PendingStore) Set(ctx context.Context, job types.JobID, state types.PendingState) error {
	key := s.key(job)
	_, err := s.b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"crc32", strconv.FormatUint(uint64(state.ExpectedCRC32), 10),
			"bytesize", strconv.FormatUint(state.ExpectedBytesize, 10),
		)
		pipe.Expire(ctx, key, s.b.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set pending state of %d: %w", job, err)
	}
	return nil
}

// Delete drops the pending state of job.
func (s *PendingStore) Delete(ctx context.Context, job types.JobID) error {
	if err := s.b.client.Del(ctx, s.key(job)).Err(); err != nil {
		return fmt.Errorf("redis: delete pending state of %d: %w", job, err)
	}
	return nil
}

func parseUint(v any, bits int) (uint64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, errors.New("unexpected value type")
	}
	return strconv.ParseUint(str, 10, bits)
}

var _ chunk.PendingStore = (*PendingStore)(nil)
