// Package archive finalizes a job's live trace into a permanent artifact.
//
// Execute uploads the trace bytes through an artifact.Store, records the
// local MD5 of exactly the bytes that were read, fetches the remote
// checksum for direct uploads, and saves the TraceMetadata. It must run
// outside any database transaction.
package archive

import (
	"context"
	"crypto/md5" //nolint:gosec // content checksum, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/pithecene-io/joblog/artifact"
	"github.com/pithecene-io/joblog/iox"
	"github.com/pithecene-io/joblog/log"
	"github.com/pithecene-io/joblog/metrics"
	"github.com/pithecene-io/joblog/types"
)

var (
	// ErrAlreadyArchived is returned when the job already owns an artifact.
	ErrAlreadyArchived = errors.New("trace already archived")

	// ErrTransactionOpen is returned when Execute is called inside a
	// database transaction.
	ErrTransactionOpen = errors.New("archive must not run inside a database transaction")

	// ErrSourceRead is returned when the live trace could not be read
	// during the upload.
	ErrSourceRead = errors.New("read live trace")
)

// sourceReadKind is the failure classification of ErrSourceRead.
const sourceReadKind = "source read"

// MetadataStore loads and saves TraceMetadata. store.Metadata implements it.
type MetadataStore interface {
	Get(ctx context.Context, job types.JobID) (*types.TraceMetadata, error)
	Save(ctx context.Context, meta *types.TraceMetadata) error
}

// TransactionProbe reports whether ctx belongs to an open database
// transaction. store.InTransaction is the bbolt probe.
type TransactionProbe func(ctx context.Context) bool

// Option configures an Archiver.
type Option func(*Archiver)

// WithTransactionProbe sets the probe checked before the upload.
func WithTransactionProbe(p TransactionProbe) Option {
	return func(a *Archiver) { a.inTx = p }
}

// WithDirectUpload enables remote checksum retrieval for remote stores.
func WithDirectUpload(enabled bool) Option {
	return func(a *Archiver) { a.direct = enabled }
}

// WithFIPS disables MD5 checksums entirely.
func WithFIPS(enabled bool) Option {
	return func(a *Archiver) { a.fips = enabled }
}

// WithMetrics sets the counters collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Archiver) { a.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Archiver) { a.logger = log.OrNop(l) }
}

// Archiver executes trace archival.
type Archiver struct {
	store   artifact.Store
	meta    MetadataStore
	inTx    TransactionProbe
	direct  bool
	fips    bool
	metrics *metrics.Collector
	logger  *log.Logger
	now     func() time.Time
}

// New creates an Archiver uploading to store and recording into meta.
func New(store artifact.Store, meta MetadataStore, opts ...Option) *Archiver {
	a := &Archiver{
		store:  store,
		meta:   meta,
		inTx:   func(context.Context) bool { return false },
		logger: log.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Execute archives the trace read from r as the artifact of job.
//
// On an upload failure the attempt is recorded and the error, a
// *artifact.StorageError for classified failures, is returned; the
// metadata never looks archived. A failure caused by reading r wraps
// ErrSourceRead and the read error instead. A remote checksum that differs from the
// local one is logged and counted but does not fail the archive.
func (a *Archiver) Execute(ctx context.Context, job types.JobRef, r io.Reader) (*types.TraceMetadata, error) {
	if a.inTx(ctx) {
		return nil, ErrTransactionOpen
	}

	logger := a.logger.ForJob(job)

	meta, err := a.meta.Get(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("archive: load metadata: %w", err)
	}
	if meta.Archived() {
		return nil, fmt.Errorf("job %d: %w", job.ID, ErrAlreadyArchived)
	}

	meta.ArchivalAttempts++
	meta.LastArchivalAttempt = a.now().UTC()

	var digest hash.Hash
	src := r
	if !a.fips {
		digest = md5.New() //nolint:gosec // content checksum
		src = io.TeeReader(r, digest)
	}
	counted := iox.NewCountingReader(src)

	art, err := a.store.Create(ctx, job, counted, -1)
	if err != nil {
		kind := failureKind(err)
		if srcErr := counted.Err(); srcErr != nil {
			kind = sourceReadKind
			err = fmt.Errorf("archive: %w: %w", ErrSourceRead, srcErr)
		}
		a.metrics.IncArchiveFailure(kind)
		logger.Warn("trace upload failed", map[string]any{
			"attempt": meta.ArchivalAttempts,
			"error":   err.Error(),
		})
		if saveErr := a.meta.Save(ctx, meta); saveErr != nil {
			return nil, errors.Join(err, fmt.Errorf("archive: record attempt: %w", saveErr))
		}
		return nil, err
	}

	if digest != nil {
		meta.Checksum = hex.EncodeToString(digest.Sum(nil))
	}
	if a.remoteChecksumEnabled() {
		a.fetchRemoteChecksum(ctx, logger, meta, art)
	}

	meta.ArtifactID = art.ID
	meta.Artifact = art
	if err := a.meta.Save(ctx, meta); err != nil {
		return nil, fmt.Errorf("archive: save metadata: %w", err)
	}

	a.metrics.IncArchiveSuccess()
	logger.Info("trace archived", map[string]any{
		"artifact_id": art.ID,
		"key":         art.Key,
		"size":        counted.N(),
		"checksum":    meta.Checksum,
		"attempt":     meta.ArchivalAttempts,
	})
	return meta, nil
}

func (a *Archiver) remoteChecksumEnabled() bool {
	return !a.fips && a.direct && a.store.Location() == types.LocationRemote
}

func (a *Archiver) fetchRemoteChecksum(ctx context.Context, logger *log.Logger, meta *types.TraceMetadata, art *types.Artifact) {
	rc, ok := a.store.(artifact.RemoteChecksummer)
	if !ok {
		return
	}
	sum, known, err := rc.RemoteChecksum(ctx, art)
	if err != nil {
		logger.Warn("remote checksum unavailable", map[string]any{
			"artifact_id": art.ID,
			"error":       err.Error(),
		})
		return
	}
	if !known {
		return
	}
	meta.RemoteChecksum = sum
	if meta.RemoteChecksumMismatch() {
		a.metrics.IncChecksumMismatch()
		logger.Error("archived trace checksum mismatch", map[string]any{
			"artifact_id":     art.ID,
			"checksum":        meta.Checksum,
			"remote_checksum": meta.RemoteChecksum,
		})
	}
}

// failureKind returns the storage classification of err for metrics.
func failureKind(err error) string {
	var se *artifact.StorageError
	if errors.As(err, &se) && se.Kind != nil {
		return se.Kind.Error()
	}
	return ""
}
