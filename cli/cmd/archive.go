package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/joblog/cli/render"
	"github.com/pithecene-io/joblog/metrics"
	"github.com/pithecene-io/joblog/trace"
	"github.com/pithecene-io/joblog/types"
)

// StatusResponse is the archival state of one job trace.
type StatusResponse struct {
	JobID          types.JobID            `json:"job_id"`
	Archived       bool                   `json:"archived"`
	Lost           bool                   `json:"lost"`
	Corrupted      bool                   `json:"corrupted"`
	Missing        []uint32               `json:"missing,omitempty"`
	Attempts       uint32                 `json:"attempts"`
	LastAttempt    time.Time              `json:"last_attempt,omitzero"`
	ArtifactID     string                 `json:"artifact_id,omitempty"`
	Key            string                 `json:"key,omitempty"`
	Location       types.ArtifactLocation `json:"location,omitempty"`
	Size           render.Bytes           `json:"size"`
	Checksum       string                 `json:"checksum,omitempty"`
	RemoteChecksum string                 `json:"remote_checksum,omitempty"`
}

func newStatusResponse(meta *types.TraceMetadata) StatusResponse {
	resp := StatusResponse{
		JobID:          meta.JobID,
		Archived:       meta.Archived(),
		Lost:           meta.Lost,
		Corrupted:      meta.Corrupted,
		Missing:        meta.Missing,
		Attempts:       meta.ArchivalAttempts,
		LastAttempt:    meta.LastArchivalAttempt,
		ArtifactID:     meta.ArtifactID,
		Checksum:       meta.Checksum,
		RemoteChecksum: meta.RemoteChecksum,
	}
	if a := meta.Artifact; a != nil {
		resp.Key = a.Key
		resp.Location = a.Location
		resp.Size = render.Bytes(a.Size)
	}
	return resp
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the archival state of a job trace",
		Flags:  TraceFlags(),
		Action: withEnv(statusAction),
	}
}

func statusAction(c *cli.Context, e *env) error {
	ref, err := jobRef(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	meta, err := e.service.Metadata(c.Context, ref.ID)
	if err != nil {
		return err
	}
	return r.Render(newStatusResponse(meta))
}

// ArchiveCommand returns the archive command.
// It uploads the live trace of a completed job as its permanent artifact.
// Upload failures are rescheduled on the configured retry queue.
func ArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:   "archive",
		Usage:  "Archive the live trace of a completed job",
		Flags:  TraceFlags(ProjectFlag),
		Action: withEnv(archiveAction),
	}
}

func archiveAction(c *cli.Context, e *env) error {
	ref, err := jobRef(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	meta, err := e.service.Archive(c.Context, ref)
	if err != nil {
		return err
	}
	return r.Render(newStatusResponse(meta))
}

// RetryResponse is the response for the retry command.
type RetryResponse struct {
	Claimed   int `json:"claimed"`
	Archived  int `json:"archived"`
	Failed    int `json:"failed"`
	Reclaimed int `json:"reclaimed"`
}

// RetryCommand returns the retry command.
// It archives the queued retries that are due now.
func RetryCommand() *cli.Command {
	return &cli.Command{
		Name:  "retry",
		Usage: "Archive the queued archival retries that are due",
		Flags: StorageFlags(
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of retries to claim",
				Value: trace.DefaultRetryBatch,
			},
		),
		Action: withEnv(retryAction),
	}
}

func retryAction(c *cli.Context, e *env) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	res, err := e.service.ProcessDue(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	return r.Render(RetryResponse(res))
}

// WorkerCommand returns the worker command.
// It processes due retries on an interval until interrupted and serves
// prometheus metrics when an address is configured.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the archival retry worker",
		Flags: StorageFlags(
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Time between retry passes",
				Value: 30 * time.Second,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of retries claimed per pass",
				Value: trace.DefaultRetryBatch,
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Listen address of the /metrics endpoint (overrides metrics.addr)",
			},
		),
		Action: withEnv(workerAction),
	}
}

func workerAction(c *cli.Context, e *env) error {
	interval := c.Duration("interval")
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", interval)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := e.cfg.Metrics.Addr
	if c.IsSet("metrics-addr") {
		addr = c.String("metrics-addr")
	}
	if addr != "" {
		shutdown, err := serveMetrics(ctx, addr, e)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	e.logger.Info("retry worker started", map[string]any{
		"interval":     interval.String(),
		"limit":        c.Int("limit"),
		"metrics_addr": addr,
	})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := e.service.ProcessDue(ctx, c.Int("limit"))
		switch {
		case err != nil && ctx.Err() == nil:
			e.logger.Error("retry pass failed", map[string]any{"error": err.Error()})
		case res.Claimed > 0:
			e.logger.Info("retry pass finished", map[string]any{
				"claimed":   res.Claimed,
				"archived":  res.Archived,
				"failed":    res.Failed,
				"reclaimed": res.Reclaimed,
			})
		}

		select {
		case <-ctx.Done():
			e.logger.Info("retry worker stopped", nil)
			return nil
		case <-ticker.C:
		}
	}
}

// serveMetrics starts the /metrics endpoint and returns its shutdown func.
func serveMetrics(ctx context.Context, addr string, e *env) (func(), error) {
	handler, err := metrics.Handler(e.metrics)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server failed", map[string]any{"error": err.Error()})
		}
	}()

	return func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}, nil
}
