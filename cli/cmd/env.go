package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/joblog/adapter"
	redisadapter "github.com/pithecene-io/joblog/adapter/redis"
	"github.com/pithecene-io/joblog/adapter/webhook"
	"github.com/pithecene-io/joblog/archive"
	"github.com/pithecene-io/joblog/artifact"
	"github.com/pithecene-io/joblog/backoff"
	"github.com/pithecene-io/joblog/chunk"
	chunkfs "github.com/pithecene-io/joblog/chunk/fs"
	chunkredis "github.com/pithecene-io/joblog/chunk/redis"
	"github.com/pithecene-io/joblog/cli/config"
	"github.com/pithecene-io/joblog/log"
	"github.com/pithecene-io/joblog/metrics"
	"github.com/pithecene-io/joblog/queue"
	"github.com/pithecene-io/joblog/store"
	"github.com/pithecene-io/joblog/trace"
	"github.com/pithecene-io/joblog/types"
)

// env is the storage stack of one command invocation, built from config.
type env struct {
	cfg     config.Config
	logger  *log.Logger
	metrics *metrics.Collector

	db        *store.DB
	meta      *store.Metadata
	chunks    chunk.Backend
	pending   chunk.PendingStore
	artifacts artifact.Store
	archiver  *archive.Archiver
	queue     queue.Queue
	adapter   adapter.Adapter
	service   *trace.Service

	redis   *goredis.Client
	closers []func() error
}

// loadConfig reads --config (if any), applies flag overrides and defaults,
// and validates the result.
func loadConfig(c *cli.Context) (config.Config, error) {
	var cfg config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func errWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// openEnv builds the full storage stack. The caller must Close it.
func openEnv(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := log.NewLoggerWithWriter(cfg.LogLevel, errWriter(c))
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(cfg.Chunks.Backend, cfg.Artifacts.Backend),
	}
	if err := e.open(c.Context); err != nil {
		return nil, errors.Join(err, e.Close())
	}
	return e, nil
}

func (e *env) open(ctx context.Context) error {
	db, err := store.Open(e.cfg.Database)
	if err != nil {
		return err
	}
	e.db = db
	e.closers = append(e.closers, db.Close)
	e.meta = store.NewMetadata(db)

	if err := e.openChunks(); err != nil {
		return err
	}
	if err := e.openArtifacts(ctx); err != nil {
		return err
	}
	if err := e.openQueue(); err != nil {
		return err
	}
	if err := e.openAdapter(); err != nil {
		return err
	}

	e.archiver = archive.New(e.artifacts, e.meta,
		archive.WithTransactionProbe(store.InTransaction),
		archive.WithDirectUpload(e.cfg.Artifacts.DirectUploadEnabled()),
		archive.WithFIPS(e.cfg.Archive.FIPS),
		archive.WithMetrics(e.metrics),
		archive.WithLogger(e.logger),
	)

	maxAttempts := e.cfg.Archive.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = backoff.DefaultMaxAttempts
	}
	policy, err := backoff.New(e.cfg.Chunks.TTL.Duration, maxAttempts)
	if err != nil {
		return err
	}

	opts := []trace.Option{
		trace.WithQueue(e.queue),
		trace.WithBackoff(policy),
		trace.WithAdapter(e.adapter),
		trace.WithMetrics(e.metrics),
		trace.WithLogger(e.logger),
		trace.WithChunkSize(e.cfg.ChunkSize),
	}
	if ttl := e.cfg.Artifacts.SignedURLTTL.Duration; ttl > 0 {
		opts = append(opts, trace.WithSignedURLTTL(ttl))
	}
	e.service, err = trace.New(e.chunks, e.pending, e.meta, e.artifacts, e.archiver, opts...)
	return err
}

// redisClient returns the shared client on chunks.redis_url.
func (e *env) redisClient() (*goredis.Client, error) {
	if e.redis != nil {
		return e.redis, nil
	}
	opts, err := goredis.ParseURL(e.cfg.Chunks.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid chunks.redis_url: %w", err)
	}
	e.redis = goredis.NewClient(opts)
	e.closers = append(e.closers, e.redis.Close)
	return e.redis, nil
}

func (e *env) openChunks() error {
	switch e.cfg.Chunks.Backend {
	case "memory":
		e.chunks = chunk.NewMemory()
		e.pending = chunk.NewMemoryPending()
	case "bolt":
		e.chunks = store.NewChunks(e.db)
		e.pending = store.NewPending(e.db)
	case "fs":
		b, err := chunkfs.New(e.cfg.Chunks.FSPath)
		if err != nil {
			return err
		}
		p, err := chunkfs.NewPending(e.cfg.Chunks.FSPath)
		if err != nil {
			return err
		}
		e.chunks, e.pending = b, p
	case "redis", "tiered":
		client, err := e.redisClient()
		if err != nil {
			return err
		}
		rb := chunkredis.NewWithClient(client, chunkredis.Config{TTL: e.cfg.Chunks.TTL.Duration})
		if e.cfg.Chunks.Backend == "redis" {
			e.chunks = rb
			e.pending = chunkredis.NewPendingStore(rb)
			return nil
		}
		e.chunks = chunk.NewTiered(rb, store.NewChunks(e.db), e.cfg.ChunkSize)
		e.pending = store.NewPending(e.db)
	default:
		return fmt.Errorf("unknown chunk backend: %s", e.cfg.Chunks.Backend)
	}
	return nil
}

func (e *env) openArtifacts(ctx context.Context) error {
	a := e.cfg.Artifacts
	switch a.Backend {
	case "fs":
		s, err := artifact.NewFSStore(a.Path)
		if err != nil {
			return err
		}
		e.artifacts = s
	case "memory":
		e.artifacts = artifact.NewMemoryStore()
	case "s3":
		bucket, prefix := artifact.ParseBucketPath(a.Path)
		s, err := artifact.NewS3Store(ctx, artifact.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       a.Region,
			Endpoint:     a.Endpoint,
			UsePathStyle: a.S3PathStyle,
		})
		if err != nil {
			return err
		}
		e.artifacts = s
	case "gcs":
		bucket, prefix := artifact.ParseBucketPath(a.Path)
		s, err := artifact.NewGCSStore(ctx, artifact.GCSConfig{
			Bucket:          bucket,
			Prefix:          prefix,
			Project:         a.GCSProject,
			CredentialsFile: a.GCSCredentials,
		})
		if err != nil {
			return err
		}
		e.artifacts = s
		e.closers = append(e.closers, s.Close)
	default:
		return fmt.Errorf("unknown artifact backend: %s", a.Backend)
	}
	return nil
}

func (e *env) openQueue() error {
	lease := queue.WithLease(e.cfg.Archive.QueueLease.Duration)
	switch e.cfg.Archive.Queue {
	case "memory":
		e.queue = queue.NewMemory(lease)
	case "redis":
		client, err := e.redisClient()
		if err != nil {
			return err
		}
		e.queue = queue.NewRedis(client, e.cfg.Archive.QueueKey, lease)
	default:
		return fmt.Errorf("unknown archive queue: %s", e.cfg.Archive.Queue)
	}
	return nil
}

func (e *env) openAdapter() error {
	a := e.cfg.Adapter
	switch a.Type {
	case "":
		e.adapter = adapter.Nop{}
		return nil
	case "webhook":
		retries := webhook.DefaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		w, err := webhook.New(webhook.Config{
			URL:     a.URL,
			Headers: a.Headers,
			Timeout: a.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return err
		}
		e.adapter = w
	case "redis":
		retries := redisadapter.DefaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		r, err := redisadapter.New(redisadapter.Config{
			URL:     a.URL,
			Channel: a.Channel,
			Stream:  a.Stream,
			Timeout: a.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return err
		}
		e.adapter = r
	default:
		return fmt.Errorf("unknown adapter type: %s", a.Type)
	}
	e.closers = append(e.closers, e.adapter.Close)
	return nil
}

// Close releases everything in reverse open order and flushes the logger.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	if e.logger != nil {
		_ = e.logger.Sync()
	}
	return errors.Join(errs...)
}

// jobRef reads --job and --project.
func jobRef(c *cli.Context) (types.JobRef, error) {
	id := c.Int64("job")
	if id <= 0 {
		return types.JobRef{}, fmt.Errorf("invalid job id %d", id)
	}
	return types.JobRef{ID: types.JobID(id), ProjectID: c.Int64("project")}, nil
}

// withEnv opens the environment for the duration of fn.
func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		e, err := openEnv(c)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, e.Close())
		}()
		return fn(c, e)
	}
}
