// Package config provides configuration types and defaults for forkpool.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/forkpool/internal/codec"
	"github.com/zjrosen/forkpool/internal/log"
	"github.com/zjrosen/forkpool/internal/paths"
	"github.com/zjrosen/forkpool/internal/pool"
	"github.com/zjrosen/forkpool/internal/shm"
	"github.com/zjrosen/forkpool/internal/tracing"
	"github.com/zjrosen/forkpool/internal/worker"
)

// Config holds all configuration options for forkpool.
type Config struct {
	Shm     ShmConfig      `mapstructure:"shm"`
	Worker  WorkerConfig   `mapstructure:"worker"`
	Harvest HarvestConfig  `mapstructure:"harvest"`
	Log     LogConfig      `mapstructure:"log"`
	Tracing tracing.Config `mapstructure:"tracing"`
	History HistoryConfig  `mapstructure:"history"`
}

// ShmConfig holds shared memory channel options.
type ShmConfig struct {
	// Dir holds the segment files. Default: /dev/shm when present, else the
	// system temp dir.
	Dir      string `mapstructure:"dir"`
	SlotSize int    `mapstructure:"slot_size"` // bytes per slot including header
	Codec    string `mapstructure:"codec"`     // "json" (default) or "cbor"
}

// WorkerConfig holds options applied inside child workers.
type WorkerConfig struct {
	// PollInterval bounds how long a bidirectional worker waits for the
	// doorbell before checking its inbound slot anyway.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// HarvestConfig holds parent side harvest options.
type HarvestConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"` // fallback when no SIGCHLD arrives
	ResultTTL    time.Duration `mapstructure:"result_ttl"`    // how long batches stay cached
}

// LogConfig holds log file options. An empty File disables logging.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// HistoryConfig holds run history options.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // Default: $XDG_STATE_HOME/forkpool/history.db
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Shm: ShmConfig{
			Dir:      "", // Resolved at runtime
			SlotSize: shm.DefaultSlotSize,
			Codec:    codec.NameJSON,
		},
		Worker: WorkerConfig{
			PollInterval: worker.DefaultPollInterval,
		},
		Harvest: HarvestConfig{
			PollInterval: pool.DefaultPollInterval,
			ResultTTL:    pool.DefaultResultTTL,
		},
		Log: LogConfig{
			File:  "",
			Level: "info",
		},
		Tracing: tracing.DefaultConfig(),
		History: HistoryConfig{
			Enabled: true,
			Path:    "", // Derived from state dir at runtime
		},
	}
}

// Validate checks the configuration for errors. Empty values that have a
// runtime default are accepted.
func (c Config) Validate() error {
	if err := ValidateShm(c.Shm); err != nil {
		return err
	}
	if c.Worker.PollInterval < 0 {
		return fmt.Errorf("worker.poll_interval must not be negative, got %v", c.Worker.PollInterval)
	}
	if c.Harvest.PollInterval < 0 {
		return fmt.Errorf("harvest.poll_interval must not be negative, got %v", c.Harvest.PollInterval)
	}
	if c.Harvest.ResultTTL < 0 {
		return fmt.Errorf("harvest.result_ttl must not be negative, got %v", c.Harvest.ResultTTL)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", c.Log.Level)
	}
	return ValidateTracing(c.Tracing)
}

// ValidateShm checks shared memory options.
func ValidateShm(s ShmConfig) error {
	if s.SlotSize != 0 && s.SlotSize < shm.MinSlotSize {
		return fmt.Errorf("shm.slot_size must be at least %d, got %d", shm.MinSlotSize, s.SlotSize)
	}
	if _, err := codec.ByName(s.Codec); err != nil {
		return fmt.Errorf("shm.codec: %w", err)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
		}
	}

	// The file path has a runtime default; the endpoint does not.
	if t.Enabled && t.Exporter == tracing.ExporterOTLP && t.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}
	return nil
}

// ChannelConfig builds the shared memory configuration for one run, with a
// fresh namespace.
func (c Config) ChannelConfig() (shm.Config, error) {
	cfg := shm.DefaultConfig()
	if c.Shm.Dir != "" {
		cfg.Dir = c.Shm.Dir
	}
	if c.Shm.SlotSize != 0 {
		cfg.SlotSize = c.Shm.SlotSize
	}
	cd, err := codec.ByName(c.Shm.Codec)
	if err != nil {
		return shm.Config{}, err
	}
	cfg.Codec = cd
	return cfg, cfg.Validate()
}

// PoolConfig builds the harvest configuration for one run.
func (c Config) PoolConfig() (pool.Config, error) {
	ch, err := c.ChannelConfig()
	if err != nil {
		return pool.Config{}, err
	}
	cfg := pool.DefaultConfig()
	cfg.Channel = ch
	if c.Harvest.PollInterval > 0 {
		cfg.PollInterval = c.Harvest.PollInterval
	}
	if c.Harvest.ResultTTL > 0 {
		cfg.ResultTTL = c.Harvest.ResultTTL
	}
	return cfg, nil
}

// TracingConfig returns the tracing section with the file path defaulted.
func (c Config) TracingConfig() tracing.Config {
	t := c.Tracing
	if t.FilePath == "" {
		t.FilePath = paths.TracesFilePath()
	}
	if t.ServiceName == "" {
		t.ServiceName = tracing.DefaultConfig().ServiceName
	}
	return t
}

// HistoryPath returns the history database path with the default applied.
func (c Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return paths.HistoryDBPath()
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# forkpool configuration

# Shared memory channel between the parent and its workers
shm:
  # dir: /dev/shm       # Segment directory (default: /dev/shm, else the temp dir)
  slot_size: 1048576    # Bytes per slot, header included
  codec: json           # Slot encoding: "json" (default) or "cbor"

# Options applied inside each worker process
worker:
  poll_interval: 10ms   # Inbound check interval when no doorbell arrives

# Parent side harvesting
harvest:
  poll_interval: 100ms  # Round interval when no SIGCHLD arrives
  result_ttl: 10m       # How long harvested batches stay cached

# Logging (disabled unless file is set; workers append to the same file)
log:
  # file: forkpool.log
  level: info           # debug, info, warn, error

# Distributed tracing across the parent and its workers
tracing:
  enabled: false        # Enable/disable tracing (default: false)
  exporter: file        # Export backend: none, file, stdout, otlp (default: file)
  # file_path: ~/.config/forkpool/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0      # Trace sampling rate 0.0-1.0 (default: 1.0)
  service_name: forkpool

# Record of completed runs, listed with 'forkpool history'
history:
  enabled: true
  # path: ~/.local/state/forkpool/history.db
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
