package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pithecene-io/joblog/types"
)

var at = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestNewArchivedEvent(t *testing.T) {
	meta := &types.TraceMetadata{
		JobID:            42,
		Checksum:         "abc",
		ArchivalAttempts: 2,
		ArtifactID:       "id-1",
		Artifact: &types.Artifact{
			ID: "id-1", Key: "7/42/id-1/job.log", Location: types.LocationRemote, Size: 10,
		},
	}
	e := NewArchivedEvent(types.JobRef{ID: 42, ProjectID: 7}, meta, at)

	if e.EventType != EventTraceArchived {
		t.Errorf("EventType = %q", e.EventType)
	}
	if e.JobID != 42 || e.ProjectID != 7 || e.Attempts != 2 {
		t.Errorf("identity = %+v", e)
	}
	if e.ArtifactKey != "7/42/id-1/job.log" || e.Location != "remote" || e.Size != 10 {
		t.Errorf("artifact fields = %+v", e)
	}
	if e.Timestamp != "2026-10-01T12:00:00Z" {
		t.Errorf("Timestamp = %q", e.Timestamp)
	}
}

func TestNewLostEvent(t *testing.T) {
	e := NewLostEvent(types.JobRef{ID: 42, ProjectID: 7}, 5, errors.New("rate limited"), at)
	if e.EventType != EventTraceLost || e.Attempts != 5 || e.Error != "rate limited" {
		t.Errorf("event = %+v", e)
	}
	if e.ArtifactID != "" {
		t.Errorf("lost event carries artifact %q", e.ArtifactID)
	}
}

func TestRetry(t *testing.T) {
	errBoom := errors.New("boom")
	errFatal := errors.New("fatal")

	tests := []struct {
		name      string
		retries   int
		failures  int
		fail      error
		wantCalls int
		wantErr   error
	}{
		{"first try", 2, 0, nil, 1, nil},
		{"succeeds after retry", 2, 1, errBoom, 2, nil},
		{"exhausted", 1, 5, errBoom, 2, errBoom},
		{"permanent", 3, 5, errFatal, 1, errFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(t.Context(), "test", tt.retries,
				func(err error) bool { return errors.Is(err, errFatal) },
				func(context.Context) error {
					calls++
					if calls <= tt.failures {
						return tt.fail
					}
					return nil
				})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := Retry(ctx, "test", 3, nil, func(context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
