//nolint:revive // types is a common Go package naming convention
package types

import "time"

// ArtifactLocation says where an archived trace lives.
type ArtifactLocation string

// Artifact locations.
const (
	// LocationLocal is an artifact stored on the local filesystem.
	LocationLocal ArtifactLocation = "local"
	// LocationRemote is an artifact stored in object storage.
	LocationRemote ArtifactLocation = "remote"
)

// Artifact is the permanent trace file of a finished job.
// It is created once per job and never chunked.
type Artifact struct {
	// ID is a unique artifact identifier.
	ID string `msgpack:"id" json:"id"`
	// Key is the object key (remote) or relative path (local).
	Key string `msgpack:"key" json:"key"`
	// Location is local or remote.
	Location ArtifactLocation `msgpack:"location" json:"location"`
	// Size is the artifact size in bytes.
	Size int64 `msgpack:"size" json:"size"`
	// ETag is the provider entity tag for remote artifacts, if reported.
	ETag string `msgpack:"etag,omitempty" json:"etag,omitempty"`
	// CreatedAt is when the artifact was stored.
	CreatedAt time.Time `msgpack:"created_at" json:"created_at"`
}

// Remote reports whether the artifact lives in object storage.
func (a *Artifact) Remote() bool {
	return a != nil && a.Location == LocationRemote
}

// TraceMetadata is the archival bookkeeping for one job's trace.
// Only the archiver mutates it; once ArtifactID is set it is immutable.
type TraceMetadata struct {
	JobID JobID `msgpack:"job_id" json:"job_id"`
	// Checksum is the local MD5 (hex) of the archived bytes.
	Checksum string `msgpack:"checksum,omitempty" json:"checksum,omitempty"`
	// RemoteChecksum is the MD5 (hex) reported by the object store.
	RemoteChecksum string `msgpack:"remote_checksum,omitempty" json:"remote_checksum,omitempty"`
	// ArchivalAttempts counts archival attempts, successful or not.
	ArchivalAttempts uint32 `msgpack:"archival_attempts" json:"archival_attempts"`
	// LastArchivalAttempt is the time of the last attempt.
	LastArchivalAttempt time.Time `msgpack:"last_archival_attempt" json:"last_archival_attempt"`
	// ArtifactID references the archived artifact, empty until archived.
	ArtifactID string `msgpack:"artifact_id,omitempty" json:"artifact_id,omitempty"`
	// Artifact is the archived artifact handle, nil until archived.
	Artifact *Artifact `msgpack:"artifact,omitempty" json:"artifact,omitempty"`
	// Lost is set when archival gave up after the maximum attempts.
	Lost bool `msgpack:"lost,omitempty" json:"lost,omitempty"`
	// Corrupted is set when archival found a chunk index gap. Missing lists
	// the absent indices at that time.
	Corrupted bool     `msgpack:"corrupted,omitempty" json:"corrupted,omitempty"`
	Missing   []uint32 `msgpack:"missing,omitempty" json:"missing,omitempty"`
}

// Archived reports whether the trace has been archived.
func (m *TraceMetadata) Archived() bool {
	return m != nil && m.ArtifactID != ""
}

// RemoteChecksumMismatch reports whether both checksums are known and differ.
func (m *TraceMetadata) RemoteChecksumMismatch() bool {
	if m == nil || m.Checksum == "" || m.RemoteChecksum == "" {
		return false
	}
	return m.Checksum != m.RemoteChecksum
}
