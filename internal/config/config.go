// Package config loads daemon configuration from an optional YAML file
// overlaid by GYMNEXUS_* environment variables.
package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/media/origin"
	"github.com/kimhsiao/gymnexus/backend/internal/telemetry"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "GYMNEXUS_"

// Config is the full daemon configuration.
type Config struct {
	DataDir  string `yaml:"data_dir" env:"DATA_DIR"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	Remote    RemoteConfig     `yaml:"remote" envPrefix:"REMOTE_"`
	Network   NetworkConfig    `yaml:"network" envPrefix:"NETWORK_"`
	Sync      SyncConfig       `yaml:"sync" envPrefix:"SYNC_"`
	Media     MediaConfig      `yaml:"media" envPrefix:"MEDIA_"`
	Origins   OriginsConfig    `yaml:"origins" envPrefix:"ORIGINS_"`
	Telemetry telemetry.Config `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Daemon    DaemonConfig     `yaml:"daemon" envPrefix:"DAEMON_"`
}

// RemoteConfig points at the remote data service.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Token   string        `yaml:"token" env:"TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// NetworkConfig tunes connectivity detection. With no ProbeURL the
// remote base URL is probed.
type NetworkConfig struct {
	ProbeURL      string        `yaml:"probe_url" env:"PROBE_URL"`
	ProbeInterval time.Duration `yaml:"probe_interval" env:"PROBE_INTERVAL"`
	Settle        time.Duration `yaml:"settle" env:"SETTLE"`
}

// SyncConfig tunes the coordinator, the queue and the scheduler.
type SyncConfig struct {
	Interval       time.Duration `yaml:"interval" env:"INTERVAL"`
	CycleTimeout   time.Duration `yaml:"cycle_timeout" env:"CYCLE_TIMEOUT"`
	BatchSize      int           `yaml:"batch_size" env:"BATCH_SIZE"`
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	QueueMaxSize   int           `yaml:"queue_max_size" env:"QUEUE_MAX_SIZE"`

	TombstoneRetention time.Duration `yaml:"tombstone_retention" env:"TOMBSTONE_RETENTION"`
}

// MediaConfig tunes the media cache and its cleanup timer.
type MediaConfig struct {
	MaxObjectMB              int64         `yaml:"max_object_mb" env:"MAX_OBJECT_MB"`
	FetchTimeout             time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	CleanupInterval          time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	// BudgetMB is the cleanup budget; 0 empties every unprotected entry
	// and UnlimitedBudget disables the size pass.
	BudgetMB                 int64         `yaml:"budget_mb" env:"BUDGET_MB"`
	MaxAge                   time.Duration `yaml:"max_age" env:"MAX_AGE"`
	PreserveHighPriority     bool          `yaml:"preserve_high_priority" env:"PRESERVE_HIGH_PRIORITY"`
	PreserveRecentlyAccessed bool          `yaml:"preserve_recently_accessed" env:"PRESERVE_RECENTLY_ACCESSED"`
}

// OriginsConfig enables the object-store media origins. HTTP(S) is
// always available.
type OriginsConfig struct {
	S3    S3Origin    `yaml:"s3" envPrefix:"S3_"`
	MinIO MinIOOrigin `yaml:"minio" envPrefix:"MINIO_"`
}

// S3Origin serves s3:// media URLs.
type S3Origin struct {
	Enabled         bool `yaml:"enabled" env:"ENABLED"`
	origin.S3Config `yaml:",inline"`
}

// MinIOOrigin serves minio:// media URLs.
type MinIOOrigin struct {
	Enabled            bool `yaml:"enabled" env:"ENABLED"`
	origin.MinIOConfig `yaml:",inline"`
}

// DaemonConfig configures the local HTTP surface.
type DaemonConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		Network: NetworkConfig{
			ProbeInterval: 30 * time.Second,
			Settle:        500 * time.Millisecond,
		},
		Sync: SyncConfig{
			Interval:       15 * time.Minute,
			CycleTimeout:   5 * time.Minute,
			BatchSize:      100,
			MaxAttempts:    5,
			InitialBackoff: time.Minute,
			MaxBackoff:     time.Hour,

			TombstoneRetention: 30 * 24 * time.Hour,
		},
		Media: MediaConfig{
			MaxObjectMB:              50,
			FetchTimeout:             2 * time.Minute,
			CleanupInterval:          24 * time.Hour,
			BudgetMB:                 500,
			MaxAge:                   30 * 24 * time.Hour,
			PreserveHighPriority:     true,
			PreserveRecentlyAccessed: true,
		},
		Telemetry: telemetry.Config{
			ServiceName: "gymnexusd",
			SampleRatio: 1,
		},
		Daemon: DaemonConfig{
			Addr:            "127.0.0.1:8787",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "gymnexus")
	}
	return ".gymnexus"
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then the environment. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "read config file", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "parse env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return apperrors.Wrap(apperrors.ErrValidation, "parse config file", err)
	}
	return nil
}

// Validate checks the values that would otherwise fail deep inside the
// components.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return apperrors.New(apperrors.ErrValidation, "data_dir is required")
	}
	if c.Remote.BaseURL != "" {
		if err := checkURL("remote.base_url", c.Remote.BaseURL); err != nil {
			return err
		}
	}
	if c.Network.ProbeURL != "" {
		if err := checkURL("network.probe_url", c.Network.ProbeURL); err != nil {
			return err
		}
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"remote.timeout", c.Remote.Timeout},
		{"network.probe_interval", c.Network.ProbeInterval},
		{"sync.interval", c.Sync.Interval},
		{"sync.cycle_timeout", c.Sync.CycleTimeout},
		{"sync.initial_backoff", c.Sync.InitialBackoff},
		{"sync.max_backoff", c.Sync.MaxBackoff},
		{"media.fetch_timeout", c.Media.FetchTimeout},
		{"media.cleanup_interval", c.Media.CleanupInterval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return apperrors.Newf(apperrors.ErrValidation, "%s must be positive", p.name)
		}
	}
	if c.Network.Settle < 0 {
		return apperrors.New(apperrors.ErrValidation, "network.settle must not be negative")
	}
	if c.Sync.MaxBackoff < c.Sync.InitialBackoff {
		return apperrors.New(apperrors.ErrValidation, "sync.max_backoff must not be below sync.initial_backoff")
	}
	if c.Sync.BatchSize <= 0 || c.Sync.MaxAttempts <= 0 {
		return apperrors.New(apperrors.ErrValidation, "sync.batch_size and sync.max_attempts must be positive")
	}
	if c.Sync.QueueMaxSize < 0 || c.Sync.TombstoneRetention < 0 || c.Media.MaxObjectMB < 0 || c.Media.MaxAge < 0 {
		return apperrors.New(apperrors.ErrValidation, "sizes and ages must not be negative")
	}
	if c.Media.BudgetMB < UnlimitedBudget {
		return apperrors.Newf(apperrors.ErrValidation, "media.budget_mb must be %d (unlimited) or at least 0", UnlimitedBudget)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return apperrors.New(apperrors.ErrValidation, "telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Origins.MinIO.Enabled && c.Origins.MinIO.Endpoint == "" {
		return apperrors.New(apperrors.ErrValidation, "origins.minio.endpoint is required when enabled")
	}
	return nil
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.Newf(apperrors.ErrValidation, "%s must be an http(s) url, got %q", name, raw)
	}
	return nil
}

// ProbeURL is the URL the connectivity prober checks.
func (c *Config) ProbeURL() string {
	if c.Network.ProbeURL != "" {
		return c.Network.ProbeURL
	}
	return c.Remote.BaseURL
}

// MB converts megabytes to bytes.
func MB(n int64) int64 {
	return n << 20
}

// UnlimitedBudget as media.budget_mb turns off size-driven cleanup.
const UnlimitedBudget int64 = -1

// CleanupBudgetBytes converts media.budget_mb to bytes, keeping
// UnlimitedBudget negative.
func (c *Config) CleanupBudgetBytes() int64 {
	if c.Media.BudgetMB < 0 {
		return -1
	}
	return MB(c.Media.BudgetMB)
}

// String renders the configuration as YAML with secrets masked.
func (c *Config) String() string {
	masked := *c
	mask(&masked.Remote.Token)
	mask(&masked.Origins.S3.SecretAccessKey)
	mask(&masked.Origins.MinIO.SecretKey)
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

func mask(s *string) {
	if *s != "" {
		*s = "***"
	}
}
