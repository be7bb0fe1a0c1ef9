// Package config provides configuration management for the plexity job.
// It covers the job host (input and local storage locations), the
// completion provider, the result stores, logging, metrics and watch mode.
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete job configuration.
type Config struct {
	Actor    ActorConfig    `yaml:"actor"`
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Watch    WatchConfig    `yaml:"watch"`
}

// ActorConfig describes where the job finds its input and local storage.
type ActorConfig struct {
	// InputPath is the file holding the input JSON. When empty, the input is
	// read from <StorageDir>/key_value_stores/default/INPUT.json
	InputPath string `yaml:"input_path"`

	// InputEnv names an environment variable holding inline input JSON.
	// When that variable is set it wins over InputPath.
	InputEnv string `yaml:"input_env"`

	// StorageDir is the root of the local dataset and key-value stores
	StorageDir string `yaml:"storage_dir"`

	// Timeout bounds the whole run; zero means no deadline
	Timeout time.Duration `yaml:"timeout"`
}

// ProviderConfig selects and configures the completion client.
type ProviderConfig struct {
	// Type is "perplexity" (native HTTP API) or "gollm"
	Type string `yaml:"type"`

	// Endpoint is the Perplexity API base URL
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the Perplexity API.
	// Falls back to the PERPLEXITY_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// Timeout is the HTTP client timeout for the completion call
	Timeout time.Duration `yaml:"timeout"`

	// MaxContextTokens enables a token preflight check when positive:
	// estimated prompt tokens plus max_tokens must fit in this window.
	MaxContextTokens int `yaml:"max_context_tokens"`

	// Gollm configures the gollm-backed client (only used if Type is "gollm")
	Gollm *GollmConfig `yaml:"gollm,omitempty"`

	// Breaker guards the provider across reruns in watch mode
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive transport failures that open
	// the circuit
	MaxFailures uint32 `yaml:"max_failures"`

	// Timeout is how long the circuit stays open before a trial call
	Timeout time.Duration `yaml:"timeout"`
}

// GollmConfig holds the provider settings handed to gollm.NewLLM.
type GollmConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// StorageConfig selects the result stores.
type StorageConfig struct {
	Dataset  DatasetConfig  `yaml:"dataset"`
	KeyValue KeyValueConfig `yaml:"key_value"`
}

// DatasetConfig configures the append-only dataset receiving one record per run.
type DatasetConfig struct {
	// Type is one of: local, sqlite, mysql, amqp
	Type string `yaml:"type"`

	// DSN is the database DSN for sqlite and mysql
	DSN string `yaml:"dsn"`

	// AMQP configuration (only used if Type is "amqp")
	AMQP *AMQPConfig `yaml:"amqp,omitempty"`
}

// AMQPConfig describes where dataset records are published.
type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// KeyValueConfig configures the key-value store used for raw completions.
type KeyValueConfig struct {
	// Type is one of: local, sqlite, mysql, redis
	Type string `yaml:"type"`

	// DSN is the database DSN for sqlite and mysql
	DSN string `yaml:"dsn"`

	// Redis configuration (only used if Type is "redis")
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string `yaml:"address"`

	// Password for Redis authentication (optional)
	Password string `yaml:"password"`

	// DB is the Redis database number to use
	DB int `yaml:"db"`

	// Prefix is prepended to every key
	Prefix string `yaml:"prefix"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// MetricsConfig controls the status server and Pushgateway export.
type MetricsConfig struct {
	// Addr is the status server listen address; empty disables it
	Addr string `yaml:"addr"`

	// PushgatewayURL receives the run metrics once at exit; empty disables it
	PushgatewayURL string `yaml:"pushgateway_url"`

	// Job is the Pushgateway job label
	Job string `yaml:"job"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	// Debounce is the minimum spacing between two reruns
	Debounce time.Duration `yaml:"debounce"`
}

// Provider and store type names accepted in the configuration.
const (
	ProviderPerplexity = "perplexity"
	ProviderGollm      = "gollm"

	StoreLocal  = "local"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreAMQP   = "amqp"
	StoreRedis  = "redis"
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Actor: ActorConfig{
			InputEnv:   "PLEXITY_INPUT",
			StorageDir: "./storage",
		},
		Provider: ProviderConfig{
			Type:     ProviderPerplexity,
			Endpoint: "https://api.perplexity.ai",
			Timeout:  120 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 3,
				Timeout:     30 * time.Second,
			},
		},
		Storage: StorageConfig{
			Dataset:  DatasetConfig{Type: StoreLocal},
			KeyValue: KeyValueConfig{Type: StoreLocal},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Job: "plexity",
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
	}
}

// InputPath returns the file the job input is read from.
func (c *Config) InputPath() string {
	if c.Actor.InputPath != "" {
		return c.Actor.InputPath
	}
	return filepath.Join(c.Actor.StorageDir, "key_value_stores", "default", "INPUT.json")
}

// LoadFile loads configuration from a YAML file. An empty filename yields
// the validated defaults.
func LoadFile(filename string) (*Config, error) {
	if filename == "" {
		cfg := DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

var envRef = regexp.MustCompile(`\$\{([^}]*)\}`)

// expandEnvVars substitutes ${VAR} and ${VAR:-default} references in one
// pass. Substituted values are not expanded again and a bare "$" is kept,
// so secrets holding "$" survive. An opening "${" without a closing brace
// is an error.
func expandEnvVars(s string) (string, error) {
	for rest := s; ; {
		i := strings.Index(rest, "${")
		if i < 0 {
			break
		}
		rest = rest[i+2:]
		end := strings.Index(rest, "}")
		if end < 0 {
			return "", fmt.Errorf("invalid syntax: unterminated variable reference")
		}
		rest = rest[end+1:]
	}

	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		key := ref[2 : len(ref)-1]
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	}), nil
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults
	config := DefaultConfig()

	// Decode YAML on top of defaults. An empty document leaves them intact.
	dec := yaml.NewDecoder(strings.NewReader(expandedData))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Actor.StorageDir == "" && c.Actor.InputPath == "" {
		return fmt.Errorf("either storage_dir or input_path must be set")
	}
	if c.Actor.Timeout < 0 {
		return fmt.Errorf("negative actor timeout: %v", c.Actor.Timeout)
	}

	// Provider validation
	switch c.Provider.Type {
	case ProviderPerplexity:
		u, err := url.Parse(c.Provider.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid provider endpoint: %q", c.Provider.Endpoint)
		}
	case ProviderGollm:
		if c.Provider.Gollm == nil || c.Provider.Gollm.Provider == "" {
			return fmt.Errorf("gollm provider selected but gollm.provider not specified")
		}
	default:
		return fmt.Errorf("invalid provider type: %s", c.Provider.Type)
	}
	if c.Provider.Timeout < 0 {
		return fmt.Errorf("negative provider timeout: %v", c.Provider.Timeout)
	}
	if c.Provider.Breaker.MaxFailures == 0 {
		return fmt.Errorf("breaker max_failures must be positive")
	}
	if c.Provider.Breaker.Timeout < 0 {
		return fmt.Errorf("negative breaker timeout: %v", c.Provider.Breaker.Timeout)
	}
	if c.Provider.MaxContextTokens < 0 {
		return fmt.Errorf("negative max context tokens: %d", c.Provider.MaxContextTokens)
	}

	// Storage validation
	switch c.Storage.Dataset.Type {
	case StoreLocal:
		if c.Actor.StorageDir == "" {
			return fmt.Errorf("local dataset requires storage_dir")
		}
	case StoreSQLite, StoreMySQL:
		if c.Storage.Dataset.DSN == "" {
			return fmt.Errorf("%s dataset requires a dsn", c.Storage.Dataset.Type)
		}
	case StoreAMQP:
		if c.Storage.Dataset.AMQP == nil || c.Storage.Dataset.AMQP.URL == "" {
			return fmt.Errorf("amqp dataset requires amqp.url")
		}
	default:
		return fmt.Errorf("invalid dataset type: %s", c.Storage.Dataset.Type)
	}

	switch c.Storage.KeyValue.Type {
	case StoreLocal:
		if c.Actor.StorageDir == "" {
			return fmt.Errorf("local key-value store requires storage_dir")
		}
	case StoreSQLite, StoreMySQL:
		if c.Storage.KeyValue.DSN == "" {
			return fmt.Errorf("%s key-value store requires a dsn", c.Storage.KeyValue.Type)
		}
	case StoreRedis:
		if c.Storage.KeyValue.Redis == nil || c.Storage.KeyValue.Redis.Address == "" {
			return fmt.Errorf("redis key-value store requires redis.address")
		}
		if c.Storage.KeyValue.Redis.DB < 0 {
			return fmt.Errorf("negative redis db: %d", c.Storage.KeyValue.Redis.DB)
		}
	default:
		return fmt.Errorf("invalid key-value type: %s", c.Storage.KeyValue.Type)
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Metrics.PushgatewayURL != "" {
		if _, err := url.ParseRequestURI(c.Metrics.PushgatewayURL); err != nil {
			return fmt.Errorf("invalid pushgateway url: %w", err)
		}
		if c.Metrics.Job == "" {
			return fmt.Errorf("pushgateway enabled but metrics job not specified")
		}
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("negative watch debounce: %v", c.Watch.Debounce)
	}

	return nil
}
