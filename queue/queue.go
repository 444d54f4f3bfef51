// Package queue schedules delayed archival retries.
//
// Retries are advisory scheduling: the archival worker computes a backoff
// delay and enqueues the job at now+delay; a later pass claims the due
// entries. Nothing here sleeps.
//
// Claiming leases an entry instead of removing it. The claimer acks the
// entry once archival returned; an entry whose lease expires unacked (the
// worker died mid-archive) becomes due again with its claim count raised.
package queue

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pithecene-io/joblog/types"
)

// DefaultLease is how long a claimed entry stays hidden from other
// claimers. It covers a slow upload.
const DefaultLease = 15 * time.Minute

// Entry is a scheduled retry.
type Entry struct {
	Job types.JobRef
	At  time.Time
	// Lease is when the claim expires. Zero for unclaimed entries.
	Lease time.Time
	// Claims counts claims without an ack, this one included. More than one
	// means an earlier claimer never finished.
	Claims int
}

// Reclaimed reports whether an earlier claim of e expired unacked.
func (e Entry) Reclaimed() bool { return e.Claims > 1 }

// Queue is a delayed job queue. A job is queued at most once; enqueuing it
// again reschedules it.
type Queue interface {
	// Enqueue schedules job at at.
	Enqueue(ctx context.Context, job types.JobRef, at time.Time) error

	// Due claims up to limit entries scheduled at or before now, earliest
	// first, leasing each until its Lease.
	Due(ctx context.Context, now time.Time, limit int) ([]Entry, error)

	// Ack removes a claimed entry. An entry rescheduled by Enqueue since the
	// claim is kept.
	Ack(ctx context.Context, e Entry) error

	// Len returns the number of queued entries, claimed ones included.
	Len(ctx context.Context) (int, error)
}

// Option configures a queue.
type Option func(*options)

type options struct {
	lease time.Duration
}

// WithLease sets the claim lease.
func WithLease(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lease = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{lease: DefaultLease}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Memory is an in-process Queue.
type Memory struct {
	mu      sync.Mutex
	lease   time.Duration
	entries map[types.JobID]Entry
}

// NewMemory creates an empty in-process queue.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		lease:   buildOptions(opts).lease,
		entries: make(map[types.JobID]Entry),
	}
}

// Enqueue implements Queue.
func (m *Memory) Enqueue(_ context.Context, job types.JobRef, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[job.ID] = Entry{Job: job, At: at}
	return nil
}

// Due implements Queue.
func (m *Memory) Due(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Entry
	for _, e := range m.entries {
		if !e.At.After(now) {
			due = append(due, e)
		}
	}
	slices.SortFunc(due, func(a, b Entry) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		return cmp.Compare(a.Job.ID, b.Job.ID)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	lease := now.Add(m.lease)
	for i, e := range due {
		e.Claims++
		e.Lease = lease
		due[i] = e
		m.entries[e.Job.ID] = Entry{Job: e.Job, At: lease, Lease: lease, Claims: e.Claims}
	}
	return due, nil
}

// Ack implements Queue.
func (m *Memory) Ack(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[e.Job.ID]; ok && cur.At.Equal(e.Lease) {
		delete(m.entries, e.Job.ID)
	}
	return nil
}

// Len implements Queue.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

var _ Queue = (*Memory)(nil)
