// Package adapter publishes trace lifecycle notifications downstream.
//
// The archival worker publishes a TraceEvent when a trace is archived, when
// it is given up on, and when it is found corrupted. Adapters are best effort: a failed publish is
// logged by the caller and never undoes an archive.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/joblog/types"
)

// Event types.
const (
	EventTraceArchived  = "trace_archived"
	EventTraceLost      = "trace_lost"
	EventTraceCorrupted = "trace_corrupted"
)

// TraceEvent is the payload published for a trace lifecycle change.
type TraceEvent struct {
	EventType   string   `json:"event_type"` // trace_archived, trace_lost or trace_corrupted
	JobID       int64    `json:"job_id"`
	ProjectID   int64    `json:"project_id"`
	ArtifactID  string   `json:"artifact_id,omitempty"`
	ArtifactKey string   `json:"artifact_key,omitempty"`
	Location    string   `json:"location,omitempty"`
	Size        int64    `json:"size,omitempty"`
	Checksum    string   `json:"checksum,omitempty"`
	Attempts    uint32   `json:"attempts"`
	Error       string   `json:"error,omitempty"`
	Missing     []uint32 `json:"missing,omitempty"`
	Timestamp   string   `json:"timestamp"` // RFC 3339
}

// NewArchivedEvent describes an archived trace.
func NewArchivedEvent(job types.JobRef, meta *types.TraceMetadata, at time.Time) *TraceEvent {
	e := &TraceEvent{
		EventType: EventTraceArchived,
		JobID:     int64(job.ID),
		ProjectID: job.ProjectID,
		Checksum:  meta.Checksum,
		Attempts:  meta.ArchivalAttempts,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
	if a := meta.Artifact; a != nil {
		e.ArtifactID = a.ID
		e.ArtifactKey = a.Key
		e.Location = string(a.Location)
		e.Size = a.Size
	}
	return e
}

// NewLostEvent describes a trace whose archival was given up on.
func NewLostEvent(job types.JobRef, attempts uint32, cause error, at time.Time) *TraceEvent {
	e := &TraceEvent{
		EventType: EventTraceLost,
		JobID:     int64(job.ID),
		ProjectID: job.ProjectID,
		Attempts:  attempts,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

// NewCorruptedEvent describes a trace that cannot be archived because the
// chunks at missing are absent.
func NewCorruptedEvent(job types.JobRef, missing []uint32, at time.Time) *TraceEvent {
	return &TraceEvent{
		EventType: EventTraceCorrupted,
		JobID:     int64(job.ID),
		ProjectID: job.ProjectID,
		Missing:   missing,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// Adapter publishes trace events to a downstream system.
type Adapter interface {
	// Publish sends an event. Must respect context cancellation and
	// deadlines.
	Publish(ctx context.Context, event *TraceEvent) error

	// Close releases adapter resources.
	Close() error
}

// Nop discards events. It stands in when no adapter is configured.
type Nop struct{}

// Publish implements Adapter.
func (Nop) Publish(context.Context, *TraceEvent) error { return nil }

// Close implements Adapter.
func (Nop) Close() error { return nil }

var _ Adapter = Nop{}
