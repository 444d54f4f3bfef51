// Package metrics collects trace archival counters.
//
// The Collector is a leaf package with no internal dependencies. It is the
// side channel for diagnostic conditions (checksum mismatches, corruption,
// lost traces) that never alter control flow. Prometheus exposes it through
// NewPrometheusCollector.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Archival
	ArchiveSuccess int64
	ArchiveFailure int64
	ArchiveRetries int64
	ArchiveLost    int64
	// RetryReclaimed counts retries claimed again after an earlier claim
	// expired unacked.
	RetryReclaimed int64
	// FailuresByKind counts archive failures per storage error kind.
	FailuresByKind map[string]int64

	// Checksums
	ChecksumMismatch  int64 // local vs remote MD5
	ChecksumInvalid   int64 // CRC32 differs from pending state
	ChecksumCorrupted int64 // chunk index gap

	// Reads
	ChunkFetchErrors int64

	// Migration
	Migrations        int64
	MigrationFailures int64

	// Dimensions
	ChunkBackend    string
	ArtifactBackend string
}

// Collector accumulates counters. Thread-safe via sync.Mutex. All
// increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	archiveSuccess int64
	archiveFailure int64
	archiveRetries int64
	archiveLost    int64
	retryReclaimed int64
	failuresByKind map[string]int64

	checksumMismatch  int64
	checksumInvalid   int64
	checksumCorrupted int64

	chunkFetchErrors int64

	migrations        int64
	migrationFailures int64

	chunkBackend    string
	artifactBackend string
}

// NewCollector creates a Collector labeled with the configured backends.
func NewCollector(chunkBackend, artifactBackend string) *Collector {
	return &Collector{
		failuresByKind:  make(map[string]int64),
		chunkBackend:    chunkBackend,
		artifactBackend: artifactBackend,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Archival ---

// IncArchiveSuccess records a trace archived.
func (c *Collector) IncArchiveSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.archiveSuccess)
}

// IncArchiveFailure records a failed archival attempt. kind is the storage
// error classification, or "" when unknown.
func (c *Collector) IncArchiveFailure(kind string) {
	if c == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	c.mu.Lock()
	c.archiveFailure++
	c.failuresByKind[kind]++
	c.mu.Unlock()
}

// IncArchiveRetry records an archival retry scheduled after a failure.
func (c *Collector) IncArchiveRetry() {
	if c == nil {
		return
	}
	c.inc(&c.archiveRetries)
}

// IncArchiveLost records a trace given up on after the last attempt.
func (c *Collector) IncArchiveLost() {
	if c == nil {
		return
	}
	c.inc(&c.archiveLost)
}

// IncRetryReclaimed records a retry whose earlier claim expired unacked.
func (c *Collector) IncRetryReclaimed() {
	if c == nil {
		return
	}
	c.inc(&c.retryReclaimed)
}

// --- Checksums ---

// IncChecksumMismatch records differing local and remote MD5s.
func (c *Collector) IncChecksumMismatch() {
	if c == nil {
		return
	}
	c.inc(&c.checksumMismatch)
}

// IncChecksumInvalid records a CRC32 that differs from the pending state.
func (c *Collector) IncChecksumInvalid() {
	if c == nil {
		return
	}
	c.inc(&c.checksumInvalid)
}

// IncChecksumCorrupted records a trace with a missing chunk.
func (c *Collector) IncChecksumCorrupted() {
	if c == nil {
		return
	}
	c.inc(&c.checksumCorrupted)
}

// --- Reads ---

// IncChunkFetchError records a failed remote window fetch.
func (c *Collector) IncChunkFetchError() {
	if c == nil {
		return
	}
	c.inc(&c.chunkFetchErrors)
}

// --- Migration ---

// IncMigration records a migrated legacy trace.
func (c *Collector) IncMigration() {
	if c == nil {
		return
	}
	c.inc(&c.migrations)
}

// IncMigrationFailure records a legacy trace that could not be migrated.
func (c *Collector) IncMigrationFailure() {
	if c == nil {
		return
	}
	c.inc(&c.migrationFailures)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.failuresByKind))
	for k, v := range c.failuresByKind {
		byKind[k] = v
	}

	return Snapshot{
		ArchiveSuccess: c.archiveSuccess,
		ArchiveFailure: c.archiveFailure,
		ArchiveRetries: c.archiveRetries,
		ArchiveLost:    c.archiveLost,
		RetryReclaimed: c.retryReclaimed,
		FailuresByKind: byKind,

		ChecksumMismatch:  c.checksumMismatch,
		ChecksumInvalid:   c.checksumInvalid,
		ChecksumCorrupted: c.checksumCorrupted,

		ChunkFetchErrors: c.chunkFetchErrors,

		Migrations:        c.migrations,
		MigrationFailures: c.migrationFailures,

		ChunkBackend:    c.chunkBackend,
		ArtifactBackend: c.artifactBackend,
	}
}
