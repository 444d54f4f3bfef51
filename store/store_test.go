package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/chunk/chunktest"
	"github.com/pithecene-io/joblog/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "joblog.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestChunks_Conformance(t *testing.T) {
	chunktest.Run(t, func(t *testing.T) chunk.Backend {
		return NewChunks(openTestDB(t))
	})
}

func TestChunks_DigestsFollowTruncation(t *testing.T) {
	c := NewChunks(openTestDB(t))
	ctx := t.Context()
	for i, s := range []string{"ABCD", "EFGH", "IJ"} {
		if err := c.Put(ctx, 3, uint32(i), []byte(s)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := c.Delete(ctx, 3, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.Put(ctx, 3, 1, []byte("EF")); err != nil {
		t.Fatalf("put: %v", err)
	}

	digests, err := c.Digests(ctx, 3)
	if err != nil {
		t.Fatalf("digests: %v", err)
	}
	if len(digests) != 2 {
		t.Fatalf("got %d digests, want 2", len(digests))
	}
	if digests[1].Size != 2 {
		t.Errorf("digest size = %d, want 2", digests[1].Size)
	}
}

func TestInTransaction(t *testing.T) {
	db := openTestDB(t)
	if db.InTransaction(t.Context()) {
		t.Fatal("background context must not be in a transaction")
	}

	var inside bool
	err := db.Update(t.Context(), func(ctx context.Context, _ *bolt.Tx) error {
		inside = db.InTransaction(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !inside {
		t.Error("expected InTransaction inside Update")
	}
}

func TestUpdate_RejectsNesting(t *testing.T) {
	db := openTestDB(t)
	err := db.Update(t.Context(), func(ctx context.Context, _ *bolt.Tx) error {
		return db.Update(ctx, func(context.Context, *bolt.Tx) error { return nil })
	})
	if err == nil {
		t.Fatal("expected nested transaction error")
	}
}

func TestMetadata_RoundTripAndImmutability(t *testing.T) {
	m := NewMetadata(openTestDB(t))
	ctx := t.Context()

	fresh, err := m.Get(ctx, 11)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.JobID != 11 || fresh.ArchivalAttempts != 0 || fresh.Archived() {
		t.Fatalf("unexpected fresh metadata %+v", fresh)
	}

	fresh.ArchivalAttempts = 2
	fresh.LastArchivalAttempt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := m.Save(ctx, fresh); err != nil {
		t.Fatalf("save: %v", err)
	}

	archived := *fresh
	archived.ArtifactID = "art-1"
	archived.Checksum = "abc"
	archived.Artifact = &types.Artifact{ID: "art-1", Key: "11/job.log", Location: types.LocationLocal, Size: 3}
	if err := m.Save(ctx, &archived); err != nil {
		t.Fatalf("save archived: %v", err)
	}

	got, err := m.Get(ctx, 11)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ArtifactID != "art-1" || got.ArchivalAttempts != 2 || got.Artifact == nil || got.Artifact.Key != "11/job.log" {
		t.Errorf("unexpected metadata %+v", got)
	}

	got.Checksum = "other"
	if err := m.Save(ctx, got); !errors.Is(err, ErrArchivedImmutable) {
		t.Errorf("expected ErrArchivedImmutable, got %v", err)
	}

	if err := m.Delete(ctx, 11); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = m.Get(ctx, 11)
	if err != nil || got.Archived() {
		t.Errorf("metadata should be reset after delete: %+v %v", got, err)
	}
}

func TestPending_Conformance(t *testing.T) {
	chunktest.RunPending(t, func(t *testing.T) chunk.PendingStore {
		return NewPending(openTestDB(t))
	})
}
