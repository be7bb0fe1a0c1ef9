package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValidConfig(t *testing.T) {
	yamlConfig := `
actor:
  storage_dir: /tmp/plexity
  timeout: 5m

provider:
  type: perplexity
  endpoint: https://api.perplexity.ai
  api_key: pplx-test
  timeout: 30s
  max_context_tokens: 127000
  breaker:
    timeout: 1m

storage:
  dataset:
    type: sqlite
    dsn: file:results.db
  key_value:
    type: redis
    redis:
      address: localhost:6379
      db: 2
      prefix: "plexity:"

logging:
  level: debug
  format: text

metrics:
  addr: ":9102"
  pushgateway_url: http://pushgateway:9091
`

	cfg, err := Load(strings.NewReader(yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/plexity", cfg.Actor.StorageDir)
	assert.Equal(t, 5*time.Minute, cfg.Actor.Timeout)
	assert.Equal(t, "PLEXITY_INPUT", cfg.Actor.InputEnv, "default must survive a partial actor block")

	assert.Equal(t, "pplx-test", cfg.Provider.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 127000, cfg.Provider.MaxContextTokens)
	assert.Equal(t, time.Minute, cfg.Provider.Breaker.Timeout)
	assert.Equal(t, uint32(3), cfg.Provider.Breaker.MaxFailures, "default must survive a partial breaker block")

	assert.Equal(t, "sqlite", cfg.Storage.Dataset.Type)
	assert.Equal(t, "file:results.db", cfg.Storage.Dataset.DSN)
	require.NotNil(t, cfg.Storage.KeyValue.Redis)
	assert.Equal(t, 2, cfg.Storage.KeyValue.Redis.DB)
	assert.Equal(t, "plexity:", cfg.Storage.KeyValue.Redis.Prefix)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":9102", cfg.Metrics.Addr)
	assert.Equal(t, "plexity", cfg.Metrics.Job)
}

func TestLoadEmptyDocumentKeepsDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFile(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := LoadFile("")
		require.NoError(t, err)
		assert.Equal(t, "perplexity", cfg.Provider.Type)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "open config file")
	})

	t.Run("file on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plexity.yaml")
		require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})
}

func TestInputPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Actor.StorageDir = "/data"
	assert.Equal(t, filepath.Join("/data", "key_value_stores", "default", "INPUT.json"), cfg.InputPath())

	cfg.Actor.InputPath = "/in/input.json"
	assert.Equal(t, "/in/input.json", cfg.InputPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider.Type = "bard" },
			wantErr: "invalid provider type",
		},
		{
			name:    "relative endpoint",
			mutate:  func(c *Config) { c.Provider.Endpoint = "api.perplexity.ai" },
			wantErr: "invalid provider endpoint",
		},
		{
			name:    "gollm without provider",
			mutate:  func(c *Config) { c.Provider.Type = "gollm" },
			wantErr: "gollm.provider not specified",
		},
		{
			name: "gollm with provider",
			mutate: func(c *Config) {
				c.Provider.Type = "gollm"
				c.Provider.Gollm = &GollmConfig{Provider: "openai", Model: "gpt-4o-mini"}
			},
		},
		{
			name:    "negative max context tokens",
			mutate:  func(c *Config) { c.Provider.MaxContextTokens = -1 },
			wantErr: "negative max context tokens",
		},
		{
			name:    "breaker without failure threshold",
			mutate:  func(c *Config) { c.Provider.Breaker.MaxFailures = 0 },
			wantErr: "breaker max_failures must be positive",
		},
		{
			name:    "negative breaker timeout",
			mutate:  func(c *Config) { c.Provider.Breaker.Timeout = -time.Second },
			wantErr: "negative breaker timeout",
		},
		{
			name:    "sqlite dataset without dsn",
			mutate:  func(c *Config) { c.Storage.Dataset.Type = "sqlite" },
			wantErr: "sqlite dataset requires a dsn",
		},
		{
			name:    "amqp dataset without url",
			mutate:  func(c *Config) { c.Storage.Dataset.Type = "amqp" },
			wantErr: "amqp dataset requires amqp.url",
		},
		{
			name:    "redis without address",
			mutate:  func(c *Config) { c.Storage.KeyValue.Type = "redis" },
			wantErr: "redis key-value store requires redis.address",
		},
		{
			name:    "unknown key-value type",
			mutate:  func(c *Config) { c.Storage.KeyValue.Type = "s3" },
			wantErr: "invalid key-value type",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "invalid log level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name:    "pushgateway without job",
			mutate:  func(c *Config) { c.Metrics.PushgatewayURL = "http://pg:9091"; c.Metrics.Job = "" },
			wantErr: "metrics job not specified",
		},
		{
			name:    "negative debounce",
			mutate:  func(c *Config) { c.Watch.Debounce = -time.Second },
			wantErr: "negative watch debounce",
		},
		{
			name:    "no storage dir and no input path",
			mutate:  func(c *Config) { c.Actor.StorageDir = "" },
			wantErr: "either storage_dir or input_path must be set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "debug", Format: "text"}.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1), "debug must be enabled")

	logger, err = LoggingConfig{Level: "warn", Format: "json"}.NewLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(0), "info must be disabled at warn")

	_, err = LoggingConfig{Level: "loud", Format: "json"}.NewLogger()
	assert.Error(t, err)
}
