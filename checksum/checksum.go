// Package checksum validates the stored chunks of a trace against the
// pending state recorded by the ingest path.
//
// The digest is the IEEE CRC32 of the chunks concatenated in index order.
// Two failure modes are told apart: a trace is invalid when the digest does
// not match (possibly a write still in flight, safe to re-check later), and
// corrupted when a chunk index is missing outright.
package checksum

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"slices"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/types"
)

// PendingSource returns the ingest path's expectation for a job.
type PendingSource interface {
	Get(ctx context.Context, job types.JobID) (*types.PendingState, bool, error)
}

// Result is the outcome of a checksum run.
type Result struct {
	Job types.JobID
	// CRC32 is the digest of the chunks actually stored.
	CRC32 uint32
	// Expected is nil when no pending state was recorded.
	Expected *types.PendingState
	// TraceSize is the sum of the stored chunk sizes.
	TraceSize int64
	Chunks    int
	// Missing lists the indices absent below the last stored index.
	Missing []uint32
}

// Valid reports whether the stored digest matches the expected one and no
// chunk is missing.
func (r *Result) Valid() bool {
	return r.Expected != nil && r.CRC32 == r.Expected.ExpectedCRC32 && !r.Corrupted()
}

// Corrupted reports whether a chunk index gap exists.
func (r *Result) Corrupted() bool {
	return len(r.Missing) > 0
}

// Compute checksums the trace of job. Backends implementing chunk.Digester
// are checksummed from their per-chunk digests without reading payloads;
// others are read chunk by chunk.
func Compute(ctx context.Context, backend chunk.Backend, pending PendingSource, job types.JobID) (*Result, error) {
	res := &Result{Job: job}

	if pending != nil {
		expected, ok, err := pending.Get(ctx, job)
		if err != nil {
			return nil, fmt.Errorf("checksum %d: %w", job, err)
		}
		if ok {
			res.Expected = expected
		}
	}

	last, ok, err := backend.LastIndex(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("checksum %d: %w", job, err)
	}
	if !ok {
		return res, nil
	}

	if dg, isDigester := backend.(chunk.Digester); isDigester {
		err = res.fromDigests(ctx, dg, last)
	} else {
		err = res.fromPayloads(ctx, backend, last)
	}
	if err != nil {
		return nil, fmt.Errorf("checksum %d: %w", job, err)
	}
	return res, nil
}

func (r *Result) fromDigests(ctx context.Context, dg chunk.Digester, last uint32) error {
	digests, err := dg.Digests(ctx, r.Job)
	if err != nil {
		return err
	}
	slices.SortFunc(digests, func(a, b types.ChunkDigest) int {
		return cmp.Compare(a.Index, b.Index)
	})

	next := uint32(0)
	for _, d := range digests {
		if d.Index > last {
			break
		}
		for ; next < d.Index; next++ {
			r.Missing = append(r.Missing, next)
		}
		r.add(chunk.CombineCRC32(r.CRC32, d.CRC32, int64(d.Size)), int64(d.Size))
		next = d.Index + 1
	}
	for ; next <= last; next++ {
		r.Missing = append(r.Missing, next)
	}
	return nil
}

func (r *Result) fromPayloads(ctx context.Context, backend chunk.Backend, last uint32) error {
	for idx := uint32(0); idx <= last; idx++ {
		c, err := backend.Get(ctx, r.Job, idx)
		if errors.Is(err, chunk.ErrNotFound) {
			r.Missing = append(r.Missing, idx)
			continue
		}
		if err != nil {
			return err
		}
		r.add(crc32.Update(r.CRC32, crc32.IEEETable, c.Data), int64(len(c.Data)))
	}
	return nil
}

func (r *Result) add(crc uint32, size int64) {
	r.CRC32 = crc
	r.TraceSize += size
	r.Chunks++
}
