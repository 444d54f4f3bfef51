package trace

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/pithecene-io/joblog/adapter"
	"github.com/pithecene-io/joblog/archive"
	"github.com/pithecene-io/joblog/log"
	"github.com/pithecene-io/joblog/types"
)

// DefaultRetryBatch is the number of due retries claimed per pass.
const DefaultRetryBatch = 100

// Archive finalizes the live trace of a completed job.
//
// The stored chunks are checksummed against the pending state first. A
// trace with a chunk index gap is not archived: retrying cannot bring the
// missing chunk back, so the trace is marked corrupted, reported once and
// ErrCorrupted is returned without scheduling a retry. A digest mismatch
// without a gap is reported but still archived, since the live chunks are
// the only copy. After a successful upload the live chunks and pending
// state are destroyed and a trace_archived event is published. A failed
// upload is rescheduled with backoff until the attempt budget is spent,
// then the trace is marked lost.
func (s *Service) Archive(ctx context.Context, job types.JobRef) (*types.TraceMetadata, error) {
	logger := s.logger.ForJob(job)

	res, err := s.Checksum(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("checksum job %d: %w", job.ID, err)
	}
	if res.Chunks == 0 && !res.Corrupted() {
		return nil, fmt.Errorf("job %d: %w", job.ID, ErrNoTrace)
	}
	fields := map[string]any{
		"crc32":      res.CRC32,
		"trace_size": res.TraceSize,
		"chunks":     res.Chunks,
		"missing":    res.Missing,
	}
	if res.Corrupted() {
		return nil, s.markCorrupted(ctx, logger, job, res.Missing, fields)
	}
	if err := s.clearCorrupted(ctx, logger, job); err != nil {
		return nil, err
	}
	s.reportChecksum(logger, res.Valid(), res.Expected != nil, fields)

	f := s.live(ctx, job.ID)
	defer func() { _ = f.Close() }()

	meta, err := s.archiver.Execute(ctx, job, f)
	if err != nil {
		if errors.Is(err, archive.ErrAlreadyArchived) || errors.Is(err, archive.ErrTransactionOpen) {
			return nil, err
		}
		return nil, s.scheduleRetry(ctx, logger, job, err)
	}

	if err := f.Destroy(); err != nil {
		logger.Warn("failed to destroy live chunks", map[string]any{"error": err.Error()})
	}
	if err := s.pending.Delete(ctx, job.ID); err != nil {
		logger.Warn("failed to delete pending state", map[string]any{"error": err.Error()})
	}
	s.publish(ctx, logger, adapter.NewArchivedEvent(job, meta, s.now()))
	return meta, nil
}

func (s *Service) reportChecksum(logger *log.Logger, valid, expected bool, fields map[string]any) {
	switch {
	case expected && !valid:
		s.metrics.IncChecksumInvalid()
		logger.Warn("live trace checksum invalid", fields)
	case !expected:
		logger.Debug("no pending state to validate the live trace against", fields)
	}
}

// markCorrupted records a chunk index gap. The counter, log entry and
// trace_corrupted event are emitted only when the trace was not already
// known to be corrupted with the same gaps.
func (s *Service) markCorrupted(ctx context.Context, logger *log.Logger, job types.JobRef, missing []uint32, fields map[string]any) error {
	cause := fmt.Errorf("job %d: chunks %v missing: %w", job.ID, missing, ErrCorrupted)

	meta, err := s.meta.Get(ctx, job.ID)
	if err != nil {
		return errors.Join(cause, err)
	}
	if meta.Archived() {
		return fmt.Errorf("job %d: %w", job.ID, archive.ErrAlreadyArchived)
	}
	if meta.Corrupted && slices.Equal(meta.Missing, missing) {
		return cause
	}

	meta.Corrupted = true
	meta.Missing = slices.Clone(missing)
	if err := s.meta.Save(ctx, meta); err != nil {
		return errors.Join(cause, err)
	}
	s.metrics.IncChecksumCorrupted()
	logger.Error("live trace corrupted, not archiving", fields)
	s.publish(ctx, logger, adapter.NewCorruptedEvent(job, meta.Missing, s.now()))
	return cause
}

// clearCorrupted drops a corrupted mark once the missing chunks were
// stored after all.
func (s *Service) clearCorrupted(ctx context.Context, logger *log.Logger, job types.JobRef) error {
	meta, err := s.meta.Get(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("job %d: load metadata: %w", job.ID, err)
	}
	if !meta.Corrupted || meta.Archived() {
		return nil
	}
	logger.Info("chunk gap filled, archiving", map[string]any{"missing": meta.Missing})
	meta.Corrupted = false
	meta.Missing = nil
	return s.meta.Save(ctx, meta)
}

// scheduleRetry records an upload failure: the job is re-enqueued after a
// backoff delay, or marked lost once the attempt budget is spent. The loss
// is reported once, when the trace first becomes lost.
func (s *Service) scheduleRetry(ctx context.Context, logger *log.Logger, job types.JobRef, cause error) error {
	meta, err := s.meta.Get(ctx, job.ID)
	if err != nil {
		return errors.Join(cause, err)
	}
	attempts := int(meta.ArchivalAttempts)

	if s.backoff.Exhausted(attempts) {
		if meta.Lost {
			return fmt.Errorf("job %d: trace already lost after %d attempts: %w", job.ID, attempts, cause)
		}
		meta.Lost = true
		if err := s.meta.Save(ctx, meta); err != nil {
			return errors.Join(cause, err)
		}
		s.metrics.IncArchiveLost()
		logger.Error("trace lost after maximum archival attempts", map[string]any{
			"attempts": attempts,
			"error":    cause.Error(),
		})
		s.publish(ctx, logger, adapter.NewLostEvent(job, meta.ArchivalAttempts, cause, s.now()))
		return fmt.Errorf("job %d: archival given up after %d attempts: %w", job.ID, attempts, cause)
	}

	if s.queue == nil {
		return cause
	}
	delay := s.backoff.ValueWithJitter(attempts)
	at := s.now().Add(delay)
	if err := s.queue.Enqueue(ctx, job, at); err != nil {
		return errors.Join(cause, err)
	}
	s.metrics.IncArchiveRetry()
	logger.Warn("trace archival rescheduled", map[string]any{
		"attempts": attempts,
		"delay":    delay.String(),
		"error":    cause.Error(),
	})
	return cause
}

func (s *Service) publish(ctx context.Context, logger *log.Logger, event *adapter.TraceEvent) {
	if err := s.adapter.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish trace event", map[string]any{
			"event_type": event.EventType,
			"error":      err.Error(),
		})
	}
}

// RetryResult summarizes a ProcessDue pass.
type RetryResult struct {
	Claimed   int
	Archived  int
	Failed    int
	Reclaimed int
}

// ProcessDue claims the retries due now and archives them. Individual
// failures are rescheduled by Archive and counted, not returned. Each
// claimed entry is acked once Archive returned; an entry whose earlier
// claim expired unacked is logged and counted as reclaimed.
func (s *Service) ProcessDue(ctx context.Context, limit int) (RetryResult, error) {
	var out RetryResult
	if s.queue == nil {
		return out, nil
	}
	if limit <= 0 {
		limit = DefaultRetryBatch
	}

	due, err := s.queue.Due(ctx, s.now(), limit)
	if err != nil {
		return out, err
	}
	out.Claimed = len(due)

	for _, e := range due {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		logger := s.logger.ForJob(e.Job)
		if e.Reclaimed() {
			out.Reclaimed++
			s.metrics.IncRetryReclaimed()
			logger.Warn("archival retry reclaimed after an unfinished claim", map[string]any{
				"claims":    e.Claims,
				"scheduled": e.At.UTC().Format(time.RFC3339),
			})
		}

		_, err := s.Archive(ctx, e.Job)
		switch {
		case err == nil, errors.Is(err, archive.ErrAlreadyArchived):
			out.Archived++
		default:
			out.Failed++
		}
		if err := s.queue.Ack(ctx, e); err != nil {
			logger.Warn("failed to ack archival retry", map[string]any{"error": err.Error()})
		}
	}
	return out, nil
}
