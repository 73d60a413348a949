package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the parameter cache service
type Config struct {
	Cache         CacheConfig         `mapstructure:"cache"`
	Backend       BackendConfig       `mapstructure:"backend"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Warmup        WarmupConfig        `mapstructure:"warmup"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// CacheConfig holds in-process cache settings
type CacheConfig struct {
	MaxSize      int           `mapstructure:"max_size"`
	ItemTTL      time.Duration `mapstructure:"item_ttl"`
	Coalesce     bool          `mapstructure:"coalesce"`      // share one fetch between concurrent misses
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"` // upper bound for a shared fetch
}

// BackendConfig selects and tunes the parameter source
type BackendConfig struct {
	Type           string               `mapstructure:"type"`     // ssm, dynamodb or redis
	Fallback       []string             `mapstructure:"fallback"` // tried in order on NotFound
	WithDecryption bool                 `mapstructure:"with_decryption"`
	MaxConcurrent  int64                `mapstructure:"max_concurrent"`
	DynamoDB       DynamoDBConfig       `mapstructure:"dynamodb"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
}

// DynamoDBConfig holds the parameter table layout
type DynamoDBConfig struct {
	Table          string `mapstructure:"table"`
	KeyAttribute   string `mapstructure:"key_attribute"`
	ValueAttribute string `mapstructure:"value_attribute"`
	ConsistentRead bool   `mapstructure:"consistent_read"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// RetryConfig holds retry settings for transient backend failures
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig holds client-side rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	MinPerSecond      float64 `mapstructure:"min_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// WarmupConfig lists parameters loaded at start-up
type WarmupConfig struct {
	Parameters      []string      `mapstructure:"parameters"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Parallelism     int           `mapstructure:"parallelism"`
	ContinueOnError bool          `mapstructure:"continue_on_error"`
	FailOnError     bool          `mapstructure:"fail_on_error"` // refuse to start if any parameter fails
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EnvPrefix is the prefix of environment variable overrides, e.g.
// PARAMCACHE_CACHE_MAX_SIZE=512.
const EnvPrefix = "PARAMCACHE"

var backendTypes = map[string]bool{
	"ssm":      true,
	"dynamodb": true,
	"redis":    true,
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when defaults and env vars are enough
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Cache defaults
	v.SetDefault("cache.max_size", 1024)
	v.SetDefault("cache.item_ttl", "1h")
	v.SetDefault("cache.coalesce", true)
	v.SetDefault("cache.fetch_timeout", "30s")

	// Backend defaults
	v.SetDefault("backend.type", "ssm")
	v.SetDefault("backend.fallback", []string{})
	v.SetDefault("backend.with_decryption", true)
	v.SetDefault("backend.max_concurrent", 10)
	v.SetDefault("backend.dynamodb.table", "parameters")
	v.SetDefault("backend.dynamodb.key_attribute", "name")
	v.SetDefault("backend.dynamodb.value_attribute", "value")
	v.SetDefault("backend.dynamodb.consistent_read", false)
	v.SetDefault("backend.redis.address", "localhost:6379")
	v.SetDefault("backend.redis.password", "")
	v.SetDefault("backend.redis.db", 0)
	v.SetDefault("backend.redis.prefix", "")
	v.SetDefault("backend.retry.max_attempts", 3)
	v.SetDefault("backend.retry.base_delay", "50ms")
	v.SetDefault("backend.retry.max_delay", "1s")
	v.SetDefault("backend.retry.jitter", 0.2)
	v.SetDefault("backend.circuit_breaker.enabled", true)
	v.SetDefault("backend.circuit_breaker.failure_threshold", 5)
	v.SetDefault("backend.circuit_breaker.success_threshold", 2)
	v.SetDefault("backend.circuit_breaker.timeout", "30s")
	v.SetDefault("backend.rate_limit.enabled", true)
	v.SetDefault("backend.rate_limit.requests_per_second", 40) // GetParameter standard throughput
	v.SetDefault("backend.rate_limit.min_per_second", 4)
	v.SetDefault("backend.rate_limit.burst", 40)

	// AWS defaults
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.max_attempts", 0)

	// Warmup defaults
	v.SetDefault("warmup.parameters", []string{})
	v.SetDefault("warmup.timeout", "30s")
	v.SetDefault("warmup.parallelism", 4)
	v.SetDefault("warmup.continue_on_error", true)
	v.SetDefault("warmup.fail_on_error", false)

	// Observability defaults
	v.SetDefault("observability.service_name", "parameter-cache")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)

	// HTTP defaults
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "10s")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Cache validation
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache max size must be > 0, got %d", c.Cache.MaxSize)
	}
	if c.Cache.ItemTTL < 0 {
		return fmt.Errorf("cache item ttl must be >= 0, got %s", c.Cache.ItemTTL)
	}
	if c.Cache.FetchTimeout < 0 {
		return fmt.Errorf("cache fetch timeout must be >= 0, got %s", c.Cache.FetchTimeout)
	}

	// Backend validation
	if !backendTypes[c.Backend.Type] {
		return fmt.Errorf("invalid backend type: %s", c.Backend.Type)
	}
	for _, fb := range c.Backend.Fallback {
		if !backendTypes[fb] {
			return fmt.Errorf("invalid fallback backend type: %s", fb)
		}
		if fb == c.Backend.Type {
			return fmt.Errorf("fallback backend %s duplicates the primary backend", fb)
		}
	}
	if c.usesBackend("dynamodb") && c.Backend.DynamoDB.Table == "" {
		return fmt.Errorf("dynamodb table is required")
	}
	if c.usesBackend("redis") && c.Backend.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Backend.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1")
	}
	if c.Backend.RateLimit.Enabled && c.Backend.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requests per second must be > 0")
	}

	// AWS validation
	if (c.usesBackend("ssm") || c.usesBackend("dynamodb")) && c.AWS.Region == "" {
		return fmt.Errorf("AWS region is required")
	}

	// Warmup validation
	if c.Warmup.Parallelism < 1 {
		return fmt.Errorf("warmup parallelism must be >= 1")
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	if r := c.Observability.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("tracing sample ratio must be within [0, 1], got %v", r)
	}

	return nil
}

// Backends returns the primary backend type followed by the fallbacks.
func (c *Config) Backends() []string {
	return append([]string{c.Backend.Type}, c.Backend.Fallback...)
}

func (c *Config) usesBackend(kind string) bool {
	for _, b := range c.Backends() {
		if b == kind {
			return true
		}
	}
	return false
}
