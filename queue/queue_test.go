package queue

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/joblog/types"
)

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ""), mr
}

func queues(t *testing.T) map[string]Queue {
	r, _ := newRedis(t)
	return map[string]Queue{
		"memory": NewMemory(),
		"redis":  r,
	}
}

func TestQueue_DueOrderAndClaim(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			jobs := []struct {
				job types.JobRef
				at  time.Time
			}{
				{types.JobRef{ID: 3, ProjectID: 1}, base.Add(3 * time.Minute)},
				{types.JobRef{ID: 1, ProjectID: 1}, base.Add(1 * time.Minute)},
				{types.JobRef{ID: 2, ProjectID: 2}, base.Add(2 * time.Minute)},
				{types.JobRef{ID: 4, ProjectID: 2}, base.Add(time.Hour)},
			}
			for _, j := range jobs {
				if err := q.Enqueue(ctx, j.job, j.at); err != nil {
					t.Fatalf("Enqueue: %v", err)
				}
			}

			due, err := q.Due(ctx, base.Add(5*time.Minute), 0)
			if err != nil {
				t.Fatalf("Due: %v", err)
			}
			if len(due) != 3 {
				t.Fatalf("len(due) = %d, want 3", len(due))
			}
			for i, want := range []types.JobID{1, 2, 3} {
				if due[i].Job.ID != want {
					t.Errorf("due[%d] = job %d, want %d", i, due[i].Job.ID, want)
				}
			}
			if due[1].Job.ProjectID != 2 {
				t.Errorf("project = %d, want 2", due[1].Job.ProjectID)
			}
			if !due[0].At.Equal(base.Add(time.Minute)) {
				t.Errorf("At = %v", due[0].At)
			}

			again, err := q.Due(ctx, base.Add(5*time.Minute), 0)
			if err != nil {
				t.Fatalf("Due: %v", err)
			}
			if len(again) != 0 {
				t.Errorf("claimed entries returned again: %v", again)
			}
			if n, _ := q.Len(ctx); n != 4 {
				t.Errorf("Len before ack = %d, want 4", n)
			}
			for _, e := range due {
				if e.Claims != 1 || e.Reclaimed() {
					t.Errorf("job %d claims = %d, want 1", e.Job.ID, e.Claims)
				}
				if err := q.Ack(ctx, e); err != nil {
					t.Fatalf("Ack: %v", err)
				}
			}
			if n, _ := q.Len(ctx); n != 1 {
				t.Errorf("Len after ack = %d, want 1", n)
			}
		})
	}
}

func TestQueue_Limit(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			for i := 1; i <= 5; i++ {
				job := types.JobRef{ID: types.JobID(i), ProjectID: 1}
				if err := q.Enqueue(ctx, job, base.Add(time.Duration(i)*time.Second)); err != nil {
					t.Fatalf("Enqueue: %v", err)
				}
			}
			due, err := q.Due(ctx, base.Add(time.Minute), 2)
			if err != nil {
				t.Fatalf("Due: %v", err)
			}
			if len(due) != 2 || due[0].Job.ID != 1 || due[1].Job.ID != 2 {
				t.Errorf("due = %+v", due)
			}
			for _, e := range due {
				_ = q.Ack(ctx, e)
			}
			if n, _ := q.Len(ctx); n != 3 {
				t.Errorf("Len = %d, want 3", n)
			}
		})
	}
}

func TestQueue_Reschedule(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			job := types.JobRef{ID: 9, ProjectID: 1}
			_ = q.Enqueue(ctx, job, base)
			_ = q.Enqueue(ctx, job, base.Add(time.Hour))

			due, _ := q.Due(ctx, base.Add(time.Minute), 0)
			if len(due) != 0 {
				t.Errorf("rescheduled job due early: %+v", due)
			}
			if n, _ := q.Len(ctx); n != 1 {
				t.Errorf("Len = %d, want 1", n)
			}
		})
	}
}

func TestQueue_ExpiredLeaseReclaimed(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			job := types.JobRef{ID: 42, ProjectID: 7}
			if err := q.Enqueue(ctx, job, base); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}

			// The claimer dies before acking.
			first, err := q.Due(ctx, base, 0)
			if err != nil || len(first) != 1 {
				t.Fatalf("Due = %+v, %v", first, err)
			}
			if !first[0].Lease.Equal(base.Add(DefaultLease)) {
				t.Errorf("Lease = %v, want %v", first[0].Lease, base.Add(DefaultLease))
			}

			if due, _ := q.Due(ctx, base.Add(DefaultLease-time.Millisecond), 0); len(due) != 0 {
				t.Fatalf("leased entry claimed again early: %+v", due)
			}

			second, err := q.Due(ctx, base.Add(DefaultLease), 0)
			if err != nil || len(second) != 1 {
				t.Fatalf("Due after lease = %+v, %v", second, err)
			}
			if second[0].Job != job || second[0].Claims != 2 || !second[0].Reclaimed() {
				t.Errorf("reclaimed entry = %+v", second[0])
			}

			// The stale claim no longer owns the entry.
			if err := q.Ack(ctx, first[0]); err != nil {
				t.Fatalf("Ack: %v", err)
			}
			if n, _ := q.Len(ctx); n != 1 {
				t.Errorf("Len after stale ack = %d, want 1", n)
			}
			if err := q.Ack(ctx, second[0]); err != nil {
				t.Fatalf("Ack: %v", err)
			}
			if n, _ := q.Len(ctx); n != 0 {
				t.Errorf("Len = %d, want 0", n)
			}
		})
	}
}

func TestQueue_AckKeepsReschedule(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			job := types.JobRef{ID: 5, ProjectID: 1}
			_ = q.Enqueue(ctx, job, base)

			due, err := q.Due(ctx, base, 0)
			if err != nil || len(due) != 1 {
				t.Fatalf("Due = %+v, %v", due, err)
			}
			// Archival failed again and rescheduled the job before the ack.
			if err := q.Enqueue(ctx, job, base.Add(time.Hour)); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
			if err := q.Ack(ctx, due[0]); err != nil {
				t.Fatalf("Ack: %v", err)
			}

			later, err := q.Due(ctx, base.Add(time.Hour), 0)
			if err != nil || len(later) != 1 {
				t.Fatalf("rescheduled entry = %+v, %v", later, err)
			}
			if later[0].Claims != 1 {
				t.Errorf("claims after reschedule = %d, want 1", later[0].Claims)
			}
		})
	}
}

func TestRedis_WithLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedis(client, "retries", WithLease(time.Minute))

	base := time.UnixMilli(1_700_000_000_000)
	_ = q.Enqueue(t.Context(), types.JobRef{ID: 1}, base)
	if _, err := q.Due(t.Context(), base, 0); err != nil {
		t.Fatalf("Due: %v", err)
	}
	score, err := mr.ZScore("retries", "0:1")
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if want := float64(base.Add(time.Minute).UnixMilli()); score != want {
		t.Errorf("leased score = %v, want %v", score, want)
	}
	if got := mr.HGet("retries:claims", "0:1"); got != "1" {
		t.Errorf("claims = %q, want 1", got)
	}
}

func TestRedis_MalformedMember(t *testing.T) {
	q, mr := newRedis(t)
	if _, err := mr.ZAdd(DefaultRedisKey, 1, "garbage"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	if _, err := q.Due(t.Context(), time.UnixMilli(10), 0); err == nil {
		t.Error("expected error for malformed member")
	}
}
