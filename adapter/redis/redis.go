// Package redis publishes trace events as JSON on a redis pub/sub channel.
//
// Pub/sub drops events nobody is subscribed to. When Config.Stream is set
// every event is also appended to a capped redis stream in the same
// MULTI, so consumers that were down can replay it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/joblog/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "joblog:trace_events"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultStreamMaxLen caps the replay stream.
const DefaultStreamMaxLen = 10000

// Config configures the redis adapter.
type Config struct {
	// URL is the redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default joblog:trace_events).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Stream is the replay stream key; empty disables the stream.
	Stream string
	// StreamMaxLen caps the stream length (default 10000).
	StreamMaxLen int64
}

// Adapter publishes trace events via redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a redis adapter with its own client.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return NewWithClient(goredis.NewClient(opts), cfg), nil
}

// NewWithClient creates a redis adapter on an existing client, such as the
// one of the redis chunk backend. Close closes client.
func NewWithClient(client *goredis.Client, cfg Config) *Adapter {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	return &Adapter{config: cfg, client: client}
}

// Publish implements adapter.Adapter.
func (a *Adapter) Publish(ctx context.Context, event *adapter.TraceEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	permanent := func(err error) bool { return errors.Is(err, goredis.ErrClosed) }
	return adapter.Retry(ctx, "redis", a.config.Retries, permanent, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		if a.config.Stream == "" {
			return a.client.Publish(publishCtx, a.config.Channel, body).Err()
		}
		_, err := a.client.TxPipelined(publishCtx, func(p goredis.Pipeliner) error {
			p.Publish(publishCtx, a.config.Channel, body)
			p.XAdd(publishCtx, &goredis.XAddArgs{
				Stream: a.config.Stream,
				MaxLen: a.config.StreamMaxLen,
				Values: map[string]any{
					"event_type": event.EventType,
					"job_id":     event.JobID,
					"event":      body,
				},
			})
			return nil
		})
		return err
	})
}

// Close closes the redis client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
