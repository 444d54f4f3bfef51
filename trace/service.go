// Package trace ties the trace core together for one deployment.
//
// A Service appends to live traces, opens the right source for a reader
// (the live chunks until the trace is archived, the artifact after), runs
// archival with checksum validation and bounded retries, and erases traces.
package trace

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"time"

	"github.com/pithecene-io/joblog/adapter"
	"github.com/pithecene-io/joblog/archive"
	"github.com/pithecene-io/joblog/artifact"
	"github.com/pithecene-io/joblog/backoff"
	"github.com/pithecene-io/joblog/checksum"
	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/chunkedio"
	"github.com/pithecene-io/joblog/httpio"
	"github.com/pithecene-io/joblog/log"
	"github.com/pithecene-io/joblog/metrics"
	"github.com/pithecene-io/joblog/queue"
	"github.com/pithecene-io/joblog/stream"
	"github.com/pithecene-io/joblog/types"
)

var (
	// ErrNotAvailable is returned when a trace cannot currently be read.
	ErrNotAvailable = errors.New("trace not available")

	// ErrTraceArchived is returned when writing to an archived trace.
	ErrTraceArchived = errors.New("trace is archived and read-only")

	// ErrNoTrace is returned when archiving a job without live chunks.
	ErrNoTrace = errors.New("job has no live trace")

	// ErrCorrupted is returned when archiving a trace with a chunk index
	// gap. It is terminal: retries cannot restore the missing chunk.
	ErrCorrupted = errors.New("live trace corrupted")
)

// DefaultSignedURLTTL is the lifetime of artifact URLs handed to HttpIO.
const DefaultSignedURLTTL = 15 * time.Minute

// MetadataStore persists TraceMetadata. store.Metadata implements it.
type MetadataStore interface {
	archive.MetadataStore
	Delete(ctx context.Context, job types.JobID) error
}

// Option configures a Service.
type Option func(*Service)

// WithQueue sets the retry queue. Without one, failed archives are not
// rescheduled.
func WithQueue(q queue.Queue) Option {
	return func(s *Service) { s.queue = q }
}

// WithBackoff sets the retry policy.
func WithBackoff(p *backoff.Policy) Option {
	return func(s *Service) { s.backoff = p }
}

// WithAdapter sets the event adapter.
func WithAdapter(a adapter.Adapter) Option {
	return func(s *Service) { s.adapter = a }
}

// WithMetrics sets the counters collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = log.OrNop(l) }
}

// WithChunkSize sets the live trace chunk size.
func WithChunkSize(n int) Option {
	return func(s *Service) { s.chunkSize = n }
}

// WithHTTPClient sets the client used to read remote artifacts.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithSignedURLTTL sets the lifetime of remote artifact URLs.
func WithSignedURLTTL(d time.Duration) Option {
	return func(s *Service) { s.urlTTL = d }
}

// Service is the trace core of one deployment.
type Service struct {
	chunks    chunk.Backend
	pending   chunk.PendingStore
	meta      MetadataStore
	artifacts artifact.Store
	archiver  *archive.Archiver

	queue   queue.Queue
	backoff *backoff.Policy
	adapter adapter.Adapter
	metrics *metrics.Collector
	logger  *log.Logger

	chunkSize  int
	httpClient *http.Client
	urlTTL     time.Duration
	now        func() time.Time
}

// New creates a Service. archiver must upload to artifacts.
func New(
	chunks chunk.Backend,
	pending chunk.PendingStore,
	meta MetadataStore,
	artifacts artifact.Store,
	archiver *archive.Archiver,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		chunks:     chunks,
		pending:    pending,
		meta:       meta,
		artifacts:  artifacts,
		archiver:   archiver,
		adapter:    adapter.Nop{},
		logger:     log.Nop(),
		chunkSize:  types.DefaultChunkSize,
		httpClient: http.DefaultClient,
		urlTTL:     DefaultSignedURLTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backoff == nil {
		p, err := backoff.New(backoff.DefaultRetention, backoff.DefaultMaxAttempts)
		if err != nil {
			return nil, err
		}
		s.backoff = p
	}
	return s, nil
}

func (s *Service) live(ctx context.Context, job types.JobID) *chunkedio.ChunkedIO {
	return chunkedio.New(ctx, s.chunks, job, chunkedio.WithChunkSize(s.chunkSize))
}

// Append writes data at offset of the live trace of job, truncating
// anything after offset, and records the new pending state. It returns the
// new trace size.
func (s *Service) Append(ctx context.Context, job types.JobID, data []byte, offset int64) (int64, error) {
	meta, err := s.meta.Get(ctx, job)
	if err != nil {
		return 0, err
	}
	if meta.Archived() {
		return 0, fmt.Errorf("job %d: %w", job, ErrTraceArchived)
	}

	f := s.live(ctx, job)
	defer func() { _ = f.Close() }()

	prefix, err := s.prefixState(ctx, job, f, offset)
	if err != nil {
		return 0, err
	}
	if err := stream.New(f).Append(data, offset); err != nil {
		return 0, err
	}

	state := types.PendingState{
		ExpectedCRC32:    chunk.CombineCRC32(prefix.ExpectedCRC32, crc32.ChecksumIEEE(data), int64(len(data))),
		ExpectedBytesize: prefix.ExpectedBytesize + uint64(len(data)),
	}
	if err := s.pending.Set(ctx, job, state); err != nil {
		return 0, fmt.Errorf("record pending state of job %d: %w", job, err)
	}
	return int64(state.ExpectedBytesize), nil
}

// prefixState returns the pending state of the first offset bytes. An
// append at the recorded end reuses the recorded state; any other offset
// digests the stored prefix.
func (s *Service) prefixState(ctx context.Context, job types.JobID, f *chunkedio.ChunkedIO, offset int64) (types.PendingState, error) {
	prev, ok, err := s.pending.Get(ctx, job)
	if err != nil {
		return types.PendingState{}, fmt.Errorf("load pending state of job %d: %w", job, err)
	}
	if ok && int64(prev.ExpectedBytesize) == offset {
		return *prev, nil
	}
	if offset == 0 {
		return types.PendingState{}, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return types.PendingState{}, err
	}
	h := crc32.NewIEEE()
	n, err := io.Copy(h, io.LimitReader(f, offset))
	if err != nil {
		return types.PendingState{}, err
	}
	if n != offset {
		return types.PendingState{}, &chunkedio.PositionError{Offset: offset, Size: n}
	}
	return types.PendingState{ExpectedCRC32: h.Sum32(), ExpectedBytesize: uint64(n)}, nil
}

// Open returns a read stream over the trace of job: the live chunks until
// the trace is archived, the artifact afterwards. Remote artifacts of a
// store that signs URLs are read through HttpIO range requests.
func (s *Service) Open(ctx context.Context, job types.JobID) (*stream.Stream, error) {
	meta, err := s.meta.Get(ctx, job)
	if err != nil {
		return nil, err
	}

	if !meta.Archived() {
		if meta.Lost {
			if _, ok, err := s.chunks.LastIndex(ctx, job); err != nil || !ok {
				return nil, fmt.Errorf("job %d: %w", job, ErrNotAvailable)
			}
		}
		return stream.New(s.live(ctx, job)), nil
	}

	a := meta.Artifact
	if signer, ok := s.artifacts.(artifact.URLSigner); ok && a.Remote() {
		url, err := signer.SignedURL(ctx, a, s.urlTTL)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w: %w", job, ErrNotAvailable, err)
		}
		h, err := httpio.New(ctx, url, a.Size, httpio.WithClient(s.httpClient))
		if err != nil {
			return nil, fmt.Errorf("job %d: %w: %w", job, ErrNotAvailable, err)
		}
		return stream.New(meteredHTTP{HttpIO: h, metrics: s.metrics}), nil
	}

	r, err := s.artifacts.Open(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w: %w", job, ErrNotAvailable, err)
	}
	return stream.New(r), nil
}

// Checksum validates the live chunks of job against its pending state.
func (s *Service) Checksum(ctx context.Context, job types.JobID) (*checksum.Result, error) {
	return checksum.Compute(ctx, s.chunks, s.pending, job)
}

// Metadata returns the archival metadata of job.
func (s *Service) Metadata(ctx context.Context, job types.JobID) (*types.TraceMetadata, error) {
	return s.meta.Get(ctx, job)
}

// Erase removes every trace of job: live chunks, pending state, artifact
// and metadata.
func (s *Service) Erase(ctx context.Context, job types.JobID) error {
	meta, err := s.meta.Get(ctx, job)
	if err != nil {
		return err
	}
	if meta.Archived() && meta.Artifact != nil {
		if err := s.artifacts.Delete(ctx, meta.Artifact); err != nil && !errors.Is(err, artifact.ErrNotFound) {
			return err
		}
	}
	if err := s.live(ctx, job).Destroy(); err != nil {
		return err
	}
	if err := s.pending.Delete(ctx, job); err != nil {
		return err
	}
	if err := s.meta.Delete(ctx, job); err != nil {
		return err
	}
	s.logger.Info("trace erased", map[string]any{"job_id": int64(job)})
	return nil
}

// meteredHTTP counts failed window fetches of a remote artifact.
type meteredHTTP struct {
	*httpio.HttpIO
	metrics *metrics.Collector
}

func (m meteredHTTP) Read(p []byte) (int, error) {
	n, err := m.HttpIO.Read(p)
	var fe *httpio.FailedToGetChunkError
	if errors.As(err, &fe) {
		m.metrics.IncChunkFetchError()
	}
	return n, err
}
