// Package migrate imports legacy filesystem traces into the artifact model.
//
// Legacy traces live under a root directory as yyyy_mm/project_id/job_id.log.
// A migrated file moves to <root>/_migrated/<path>; a file whose job or
// project is gone moves to <root>/_not_found/<path>. Files are never
// deleted.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/joblog/archive"
	"github.com/pithecene-io/joblog/log"
	"github.com/pithecene-io/joblog/metrics"
	"github.com/pithecene-io/joblog/types"
)

// Migration errors. Each is terminal for the input it was returned for.
var (
	ErrJobNotCompleted        = errors.New("job is not completed yet")
	ErrTraceArtifactDuplicate = errors.New("job already has a trace artifact")
	ErrTraceFileNotFound      = errors.New("legacy trace file not found")
	ErrInvalidTracePathFormat = errors.New("invalid legacy trace path format")
)

// JobFinder resolves jobs and projects of legacy traces.
type JobFinder interface {
	// FindJob returns the job, or ok=false when it does not exist.
	FindJob(ctx context.Context, id types.JobID) (job *types.Job, ok bool, err error)
	// ProjectExists reports whether the project still exists.
	ProjectExists(ctx context.Context, id int64) (bool, error)
}

// Result describes a processed legacy trace.
type Result struct {
	Path LegacyPath
	// Quarantined is true when the file was moved to NotFoundDir.
	Quarantined bool
	// Metadata is the archived trace metadata of a migrated file.
	Metadata *types.TraceMetadata
}

// Migrator moves legacy traces into artifacts through an Archiver.
type Migrator struct {
	root     string
	jobs     JobFinder
	archiver *archive.Archiver
	metrics  *metrics.Collector
	logger   *log.Logger
}

// New creates a Migrator for legacy traces under root.
func New(root string, jobs JobFinder, archiver *archive.Archiver, m *metrics.Collector, logger *log.Logger) *Migrator {
	return &Migrator{
		root:     root,
		jobs:     jobs,
		archiver: archiver,
		metrics:  m,
		logger:   log.OrNop(logger),
	}
}

// Migrate imports the legacy trace at rel, relative to the root.
func (m *Migrator) Migrate(ctx context.Context, rel string) (*Result, error) {
	res, err := m.migrate(ctx, rel)
	if err != nil {
		m.metrics.IncMigrationFailure()
		m.logger.Warn("legacy trace not migrated", map[string]any{
			"path":  rel,
			"error": err.Error(),
		})
		return nil, err
	}
	if !res.Quarantined {
		m.metrics.IncMigration()
	}
	return res, nil
}

func (m *Migrator) migrate(ctx context.Context, rel string) (*Result, error) {
	p, err := ParseLegacyPath(rel)
	if err != nil {
		return nil, err
	}
	res := &Result{Path: p}
	src := m.path("", p)

	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTraceFileNotFound, p)
		}
		return nil, fmt.Errorf("migrate: stat %s: %w", p, err)
	}

	job, found, err := m.jobs.FindJob(ctx, p.JobID)
	if err != nil {
		return nil, fmt.Errorf("migrate: find job %s: %w", p.JobID, err)
	}
	if found {
		found, err = m.jobs.ProjectExists(ctx, job.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("migrate: find project %d: %w", job.ProjectID, err)
		}
	}
	if !found {
		if err := m.relocate(p, NotFoundDir); err != nil {
			return nil, err
		}
		res.Quarantined = true
		m.logger.Info("legacy trace quarantined", map[string]any{"path": p.String()})
		return res, nil
	}

	if !job.Complete {
		return nil, fmt.Errorf("job %s: %w", job.ID, ErrJobNotCompleted)
	}
	if job.TraceArtifact != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, ErrTraceArtifactDuplicate)
	}

	meta, err := m.archive(ctx, job.JobRef, src)
	if err != nil {
		return nil, err
	}
	res.Metadata = meta

	if err := m.relocate(p, MigratedDir); err != nil {
		return nil, err
	}
	m.logger.ForJob(job.JobRef).Info("legacy trace migrated", map[string]any{
		"path":        p.String(),
		"artifact_id": meta.ArtifactID,
	})
	return res, nil
}

func (m *Migrator) archive(ctx context.Context, job types.JobRef, src string) (*types.TraceMetadata, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("migrate: open %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()

	meta, err := m.archiver.Execute(ctx, job, f)
	if errors.Is(err, archive.ErrAlreadyArchived) {
		return nil, fmt.Errorf("job %s: %w", job.ID, ErrTraceArtifactDuplicate)
	}
	return meta, err
}

func (m *Migrator) path(dir string, p LegacyPath) string {
	return filepath.Join(m.root, dir, filepath.FromSlash(p.String()))
}

func (m *Migrator) relocate(p LegacyPath, dir string) error {
	dst := m.path(dir, p)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("migrate: create %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(m.path("", p), dst); err != nil {
		return fmt.Errorf("migrate: move %s to %s: %w", p, dir, err)
	}
	return nil
}
