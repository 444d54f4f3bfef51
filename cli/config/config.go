package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/joblog/types"
)

// Config represents a joblog.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	ChunkSize int            `yaml:"chunk_size"`
	Database  string         `yaml:"database"`
	Chunks    ChunksConfig   `yaml:"chunks"`
	Artifacts ArtifactConfig `yaml:"artifacts"`
	Archive   ArchiveConfig  `yaml:"archive"`
	Adapter   AdapterConfig  `yaml:"adapter"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	LogLevel  string         `yaml:"log_level"`
}

// ChunksConfig selects the live trace chunk backend.
type ChunksConfig struct {
	// Backend is memory, redis, bolt, fs or tiered (redis over bolt).
	Backend  string   `yaml:"backend"`
	RedisURL string   `yaml:"redis_url"`
	TTL      Duration `yaml:"ttl"`
	FSPath   string   `yaml:"fs_path"`
}

// ArtifactConfig selects the artifact store.
type ArtifactConfig struct {
	// Backend is fs, memory, s3 or gcs.
	Backend string `yaml:"backend"`
	// Path is the fs root, or bucket/prefix for s3 and gcs.
	Path           string `yaml:"path"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	S3PathStyle    bool   `yaml:"s3_path_style"`
	DirectUpload   *bool  `yaml:"direct_upload,omitempty"`
	GCSProject     string `yaml:"gcs_project"`
	GCSCredentials string `yaml:"gcs_credentials"`
	// SignedURLTTL is the lifetime of remote artifact read URLs.
	SignedURLTTL Duration `yaml:"signed_url_ttl"`
}

// ArchiveConfig holds archival defaults.
type ArchiveConfig struct {
	MaxAttempts int  `yaml:"max_attempts"`
	FIPS        bool `yaml:"fips"`
	// Queue is memory or redis.
	Queue    string `yaml:"queue"`
	QueueKey string `yaml:"queue_key"`
	// QueueLease is how long a claimed retry stays hidden before another
	// worker may claim it again.
	QueueLease Duration `yaml:"queue_lease"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string `yaml:"type"`
	URL     string `yaml:"url"`
	Channel string `yaml:"channel,omitempty"`
	// Stream is the redis replay stream key (redis adapter only).
	Stream  string            `yaml:"stream,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// MetricsConfig configures the prometheus endpoint of the worker.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "168h".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Defaults applied by WithDefaults.
const (
	DefaultDatabase       = "joblog.db"
	DefaultChunkBackend   = "bolt"
	DefaultChunksPath     = "chunks"
	DefaultArtifactPath   = "artifacts"
	DefaultArtifactStore  = "fs"
	DefaultQueue          = "memory"
	DefaultRedisChunksTTL = 7 * 24 * time.Hour
)

// WithDefaults returns a copy of c with unset values defaulted.
func (c Config) WithDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = types.DefaultChunkSize
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Chunks.Backend == "" {
		c.Chunks.Backend = DefaultChunkBackend
	}
	if c.Chunks.FSPath == "" {
		c.Chunks.FSPath = DefaultChunksPath
	}
	if c.Chunks.TTL.Duration == 0 {
		c.Chunks.TTL.Duration = DefaultRedisChunksTTL
	}
	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = DefaultArtifactStore
	}
	if c.Artifacts.Path == "" && c.Artifacts.Backend == "fs" {
		c.Artifacts.Path = DefaultArtifactPath
	}
	if c.Archive.Queue == "" {
		c.Archive.Queue = DefaultQueue
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// DirectUploadEnabled reports whether remote uploads go straight to object
// storage. Defaults to true.
func (a ArtifactConfig) DirectUploadEnabled() bool {
	return a.DirectUpload == nil || *a.DirectUpload
}

// Validate rejects unknown backends and inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be > 0, got %d", c.ChunkSize))
	}

	switch c.Chunks.Backend {
	case "memory", "bolt", "fs":
	case "redis", "tiered":
		if c.Chunks.RedisURL == "" {
			errs = append(errs, fmt.Errorf("chunks.redis_url is required for the %s backend", c.Chunks.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown chunks.backend %q (must be memory, redis, bolt, fs or tiered)", c.Chunks.Backend))
	}

	switch c.Artifacts.Backend {
	case "fs", "memory":
	case "s3", "gcs":
		if c.Artifacts.Path == "" {
			errs = append(errs, fmt.Errorf("artifacts.path (bucket/prefix) is required for %s", c.Artifacts.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown artifacts.backend %q (must be fs, memory, s3 or gcs)", c.Artifacts.Backend))
	}

	switch c.Archive.Queue {
	case "memory":
	case "redis":
		if c.Chunks.RedisURL == "" {
			errs = append(errs, errors.New("archive.queue redis requires chunks.redis_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive.queue %q (must be memory or redis)", c.Archive.Queue))
	}
	if c.Archive.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("archive.max_attempts must be >= 0, got %d", c.Archive.MaxAttempts))
	}
	if c.Archive.QueueLease.Duration < 0 {
		errs = append(errs, fmt.Errorf("archive.queue_lease must be >= 0, got %s", c.Archive.QueueLease.Duration))
	}

	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown adapter.type %q (must be webhook or redis)", c.Adapter.Type))
	}
	return errors.Join(errs...)
}
