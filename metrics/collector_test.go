package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("redis", "s3")

	c.IncArchiveSuccess()
	c.IncArchiveSuccess()
	c.IncArchiveFailure("rate limited")
	c.IncArchiveFailure("")
	c.IncArchiveRetry()
	c.IncArchiveLost()
	c.IncRetryReclaimed()
	c.IncChecksumMismatch()
	c.IncChecksumInvalid()
	c.IncChecksumInvalid()
	c.IncChecksumCorrupted()
	c.IncChunkFetchError()
	c.IncMigration()
	c.IncMigrationFailure()

	s := c.Snapshot()

	checks := []struct {
		name      string
		got, want int64
	}{
		{"ArchiveSuccess", s.ArchiveSuccess, 2},
		{"ArchiveFailure", s.ArchiveFailure, 2},
		{"ArchiveRetries", s.ArchiveRetries, 1},
		{"ArchiveLost", s.ArchiveLost, 1},
		{"RetryReclaimed", s.RetryReclaimed, 1},
		{"ChecksumMismatch", s.ChecksumMismatch, 1},
		{"ChecksumInvalid", s.ChecksumInvalid, 2},
		{"ChecksumCorrupted", s.ChecksumCorrupted, 1},
		{"ChunkFetchErrors", s.ChunkFetchErrors, 1},
		{"Migrations", s.Migrations, 1},
		{"MigrationFailures", s.MigrationFailures, 1},
		{"FailuresByKind[rate limited]", s.FailuresByKind["rate limited"], 1},
		{"FailuresByKind[unknown]", s.FailuresByKind["unknown"], 1},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %d, want %d", ch.name, ch.got, ch.want)
		}
	}
	if s.ChunkBackend != "redis" || s.ArtifactBackend != "s3" {
		t.Errorf("dimensions = %q/%q", s.ChunkBackend, s.ArtifactBackend)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.IncArchiveSuccess()
	c.IncArchiveFailure("x")
	c.IncChecksumMismatch()
	if s := c.Snapshot(); s.ArchiveSuccess != 0 {
		t.Errorf("nil collector snapshot = %+v", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("memory", "fs")
	c.IncArchiveFailure("timeout")
	s := c.Snapshot()
	s.FailuresByKind["timeout"] = 99

	if got := c.Snapshot().FailuresByKind["timeout"]; got != 1 {
		t.Errorf("snapshot mutation leaked into collector: %d", got)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector("memory", "fs")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncArchiveSuccess()
			c.IncChecksumInvalid()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.ArchiveSuccess != 50 || s.ChecksumInvalid != 50 {
		t.Errorf("lost increments: %+v", s)
	}
}

func TestHandler_ExposesCounters(t *testing.T) {
	c := NewCollector("bolt", "gcs")
	c.IncArchiveSuccess()
	c.IncArchiveFailure("timeout")

	h, err := Handler(c)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`joblog_archive_success_total{artifact_backend="gcs",chunk_backend="bolt"} 1`,
		`joblog_archive_failure_by_kind_total{artifact_backend="gcs",chunk_backend="bolt",kind="timeout"} 1`,
		`joblog_checksum_mismatch_total{artifact_backend="gcs",chunk_backend="bolt"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q\n%s", want, out)
		}
	}
}
