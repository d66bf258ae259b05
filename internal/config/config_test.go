package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/forkpool/internal/codec"
	"github.com/zjrosen/forkpool/internal/shm"
	"github.com/zjrosen/forkpool/internal/tracing"
)

func load(t *testing.T, yamlText string) Config {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yamlText)))
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, shm.DefaultSlotSize, cfg.Shm.SlotSize)
	require.Equal(t, codec.NameJSON, cfg.Shm.Codec)
	require.Equal(t, 10*time.Millisecond, cfg.Worker.PollInterval)
	require.Equal(t, 100*time.Millisecond, cfg.Harvest.PollInterval)
	require.Equal(t, 10*time.Minute, cfg.Harvest.ResultTTL)
	require.False(t, cfg.Tracing.Enabled)
	require.True(t, cfg.History.Enabled)
}

func TestDefaultConfigTemplate_MatchesDefaults(t *testing.T) {
	require.Equal(t, Defaults(), load(t, DefaultConfigTemplate()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"slot size zero uses default", func(c *Config) { c.Shm.SlotSize = 0 }, ""},
		{"slot size too small", func(c *Config) { c.Shm.SlotSize = 4 }, "shm.slot_size"},
		{"cbor codec", func(c *Config) { c.Shm.Codec = codec.NameCBOR }, ""},
		{"unknown codec", func(c *Config) { c.Shm.Codec = "xml" }, "shm.codec"},
		{"negative worker poll", func(c *Config) { c.Worker.PollInterval = -time.Second }, "worker.poll_interval"},
		{"negative harvest poll", func(c *Config) { c.Harvest.PollInterval = -time.Second }, "harvest.poll_interval"},
		{"negative ttl", func(c *Config) { c.Harvest.ResultTTL = -time.Second }, "harvest.result_ttl"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"sample rate above one", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "tracing.sample_rate"},
		{"bad exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, "tracing.exporter"},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = tracing.ExporterOTLP
			c.Tracing.OTLPEndpoint = ""
		}, "tracing.otlp_endpoint"},
		{"file without path uses default", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.FilePath = ""
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg := load(t, `
shm:
  dir: /tmp/segments
  slot_size: 4096
  codec: cbor
harvest:
  poll_interval: 250ms
tracing:
  enabled: true
  exporter: stdout
`)
	require.Equal(t, "/tmp/segments", cfg.Shm.Dir)
	require.Equal(t, 4096, cfg.Shm.SlotSize)
	require.Equal(t, 250*time.Millisecond, cfg.Harvest.PollInterval)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, tracing.ExporterStdout, cfg.Tracing.Exporter)
}

func TestChannelConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Shm.Dir = t.TempDir()
	cfg.Shm.SlotSize = 4096
	cfg.Shm.Codec = codec.NameCBOR

	ch, err := cfg.ChannelConfig()
	require.NoError(t, err)
	require.Equal(t, cfg.Shm.Dir, ch.Dir)
	require.Equal(t, 4096, ch.SlotSize)
	require.Equal(t, codec.NameCBOR, ch.Codec.Name())
	require.NotEmpty(t, ch.Namespace)

	again, err := cfg.ChannelConfig()
	require.NoError(t, err)
	require.NotEqual(t, ch.Namespace, again.Namespace, "each run gets its own namespace")
}

func TestChannelConfig_UnknownCodec(t *testing.T) {
	cfg := Defaults()
	cfg.Shm.Codec = "xml"
	_, err := cfg.ChannelConfig()
	require.ErrorIs(t, err, codec.ErrUnknownCodec)
}

func TestPoolConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Shm.Dir = t.TempDir()
	cfg.Harvest.PollInterval = 5 * time.Millisecond
	cfg.Harvest.ResultTTL = 0

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	require.Equal(t, 5*time.Millisecond, pc.PollInterval)
	require.Equal(t, 10*time.Minute, pc.ResultTTL, "zero falls back to the default")
	require.Equal(t, cfg.Shm.Dir, pc.Channel.Dir)
}

func TestTracingConfig_Defaults(t *testing.T) {
	t.Setenv("FORKPOOL_CONFIG_DIR", "/tmp/forkpool-config")
	cfg := Defaults()
	cfg.Tracing.ServiceName = ""

	tc := cfg.TracingConfig()
	require.Equal(t, filepath.Join("/tmp/forkpool-config", "traces", "traces.jsonl"), tc.FilePath)
	require.Equal(t, "forkpool", tc.ServiceName)
}

func TestHistoryPath(t *testing.T) {
	t.Setenv("FORKPOOL_STATE_DIR", "/tmp/forkpool-state")
	cfg := Defaults()
	require.Equal(t, filepath.Join("/tmp/forkpool-state", "history.db"), cfg.HistoryPath())

	cfg.History.Path = "/elsewhere/h.db"
	require.Equal(t, "/elsewhere/h.db", cfg.HistoryPath())
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.Equal(t, Defaults(), cfg)
}
