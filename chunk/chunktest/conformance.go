// Package chunktest provides a conformance suite shared by every
// chunk.Backend implementation.
package chunktest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/types"
)

// Run exercises the chunk.Backend contract against backends produced by newBackend.
// Each subtest receives a fresh backend.
func Run(t *testing.T, newBackend func(t *testing.T) chunk.Backend) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Get(t.Context(), 1, 0)
		if !errors.Is(err, chunk.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutGet", func(t *testing.T) {
		b := newBackend(t)
		data := []byte("hello")
		if err := b.Put(t.Context(), 1, 0, data); err != nil {
			t.Fatalf("put: %v", err)
		}
		data[0] = 'J' // backend must keep its own copy

		c, err := b.Get(t.Context(), 1, 0)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if c.Index != 0 || !bytes.Equal(c.Data, []byte("hello")) {
			t.Errorf("got chunk %d %q, want 0 %q", c.Index, c.Data, "hello")
		}
	})

	t.Run("PutReplaces", func(t *testing.T) {
		b := newBackend(t)
		mustPut(t, b, 1, 0, "first")
		mustPut(t, b, 1, 0, "second")
		c, err := b.Get(t.Context(), 1, 0)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(c.Data) != "second" {
			t.Errorf("got %q, want %q", c.Data, "second")
		}
	})

	t.Run("LastIndex", func(t *testing.T) {
		b := newBackend(t)
		if _, ok, err := b.LastIndex(t.Context(), 1); err != nil || ok {
			t.Fatalf("empty job: ok=%v err=%v", ok, err)
		}
		mustPut(t, b, 1, 2, "c")
		mustPut(t, b, 1, 0, "a")
		mustPut(t, b, 1, 1, "b")
		mustPut(t, b, 2, 7, "other job")

		idx, ok, err := b.LastIndex(t.Context(), 1)
		if err != nil || !ok {
			t.Fatalf("LastIndex: ok=%v err=%v", ok, err)
		}
		if idx != 2 {
			t.Errorf("LastIndex = %d, want 2", idx)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		b := newBackend(t)
		mustPut(t, b, 1, 0, "a")
		mustPut(t, b, 1, 1, "b")
		if err := b.Delete(t.Context(), 1, 1); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := b.Delete(t.Context(), 1, 9); err != nil {
			t.Fatalf("delete missing: %v", err)
		}
		if _, err := b.Get(t.Context(), 1, 1); !errors.Is(err, chunk.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		idx, ok, err := b.LastIndex(t.Context(), 1)
		if err != nil || !ok || idx != 0 {
			t.Errorf("LastIndex = %d ok=%v err=%v, want 0", idx, ok, err)
		}
	})

	t.Run("DeleteAll", func(t *testing.T) {
		b := newBackend(t)
		mustPut(t, b, 1, 0, "a")
		mustPut(t, b, 1, 1, "b")
		mustPut(t, b, 2, 0, "keep")
		if err := b.DeleteAll(t.Context(), 1); err != nil {
			t.Fatalf("delete all: %v", err)
		}
		if _, ok, _ := b.LastIndex(t.Context(), 1); ok {
			t.Error("job 1 still has chunks")
		}
		c, err := b.Get(t.Context(), 2, 0)
		if err != nil || string(c.Data) != "keep" {
			t.Errorf("job 2 chunk lost: %v", err)
		}
	})

	t.Run("Digests", func(t *testing.T) {
		b := newBackend(t)
		d, ok := b.(chunk.Digester)
		if !ok {
			t.Skip("backend does not keep digests")
		}
		mustPut(t, b, 1, 1, "world")
		mustPut(t, b, 1, 0, "hello")

		digests, err := d.Digests(t.Context(), 1)
		if err != nil {
			t.Fatalf("digests: %v", err)
		}
		if len(digests) != 2 {
			t.Fatalf("got %d digests, want 2", len(digests))
		}
		if digests[0].Index != 0 || digests[1].Index != 1 {
			t.Errorf("digests not in index order: %+v", digests)
		}
		if digests[0].Size != 5 || digests[0].CRC32 == 0 {
			t.Errorf("unexpected digest %+v", digests[0])
		}
	})
}

func mustPut(t *testing.T, b chunk.Backend, job types.JobID, index uint32, data string) {
	t.Helper()
	if err := b.Put(t.Context(), job, index, []byte(data)); err != nil {
		t.Fatalf("put %d/%d: %v", job, index, err)
	}
}

// RunPending exercises the chunk.PendingStore contract.
func RunPending(t *testing.T, newStore func(t *testing.T) chunk.PendingStore) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		st, ok, err := s.Get(t.Context(), 1)
		if err != nil || ok || st != nil {
			t.Fatalf("Get = (%v, %v, %v), want nothing", st, ok, err)
		}
	})

	t.Run("SetGetDelete", func(t *testing.T) {
		s := newStore(t)
		want := types.PendingState{ExpectedCRC32: 0xdeadbeef, ExpectedBytesize: 1 << 33}
		if err := s.Set(t.Context(), 1, want); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, ok, err := s.Get(t.Context(), 1)
		if err != nil || !ok {
			t.Fatalf("get: ok=%v err=%v", ok, err)
		}
		if *got != want {
			t.Errorf("got %+v, want %+v", *got, want)
		}
		if _, ok, _ := s.Get(t.Context(), 2); ok {
			t.Error("pending state leaked to another job")
		}

		if err := s.Delete(t.Context(), 1); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, ok, _ := s.Get(t.Context(), 1); ok {
			t.Error("pending state survived delete")
		}
		if err := s.Delete(t.Context(), 1); err != nil {
			t.Errorf("deleting missing state: %v", err)
		}
	})
}
