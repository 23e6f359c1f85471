package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/hookq/internal/backoff"
	"github.com/osvaldoandrade/hookq/internal/secrets"
	"github.com/osvaldoandrade/hookq/pkg/auth"
	"github.com/osvaldoandrade/hookq/pkg/persistence"

	"gopkg.in/yaml.v3"
)

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

// StoreConfig selects a pluggable backend. Config is passed to the backend
// factory as JSON.
type StoreConfig struct {
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

type Config struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Timezone      string `yaml:"timezone"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	AuthProvider string         `yaml:"authProvider"`
	AuthConfig   map[string]any `yaml:"authConfig"`

	SecretEncryptionKey string `yaml:"secretEncryptionKey"`

	MaxSubscriptionsPerScope int `yaml:"maxSubscriptionsPerScope"`
	// nil selects the default; 0 disables the matcher cache
	MatcherCacheTTLSeconds *int `yaml:"matcherCacheTtlSeconds"`
	MatcherCacheSize       int  `yaml:"matcherCacheSize"`

	DispatchWorkers        int    `yaml:"dispatchWorkers"`
	DeliveryMaxAttempts    int    `yaml:"deliveryMaxAttempts"`
	DeliveryTimeoutSeconds int    `yaml:"deliveryTimeoutSeconds"`
	LeaseSeconds           int    `yaml:"leaseSeconds"`
	PromoteIntervalMs      int    `yaml:"promoteIntervalMs"`
	BackoffPolicy          string `yaml:"backoffPolicy"`
	BackoffBaseSeconds     int    `yaml:"backoffBaseSeconds"`
	BackoffMaxSeconds      int    `yaml:"backoffMaxSeconds"`

	AttemptStore             StoreConfig `yaml:"attemptStore"`
	AttemptRetentionHours    int         `yaml:"attemptRetentionHours"`
	AttemptHistoryLimit      int         `yaml:"attemptHistoryLimit"`
	RetentionIntervalSeconds int         `yaml:"retentionIntervalSeconds"`

	Tracing TracingConfig `yaml:"tracing"`
}

// LoadConfig reads filePath, applies environment overrides and defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return finish(&c)
}

// LoadConfigOptional behaves like LoadConfig but treats an empty path or a
// missing file as an empty document.
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) == "" {
		return finish(&Config{})
	}
	c, err := LoadConfig(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(&Config{})
	}
	return c, err
}

func finish(c *Config) (*Config, error) {
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	log.Printf("hookq config: {Port:%d Redis:%s Env:%s Workers:%d MaxAttempts:%d Timeout:%ds Lease:%ds AttemptStore:%s}\n",
		c.Port, c.RedisAddr, c.Env, c.DispatchWorkers, c.DeliveryMaxAttempts, c.DeliveryTimeoutSeconds, c.LeaseSeconds, c.AttemptStore.Type)
	return c, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envJSON(key string, dst *map[string]any) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = m
	return nil
}

func (c *Config) applyEnv() error {
	envInt("PORT", &c.Port)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("TIMEZONE", &c.Timezone)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("ENV", &c.Env)
	envString("AUTH_PROVIDER", &c.AuthProvider)
	if err := envJSON("AUTH_CONFIG", &c.AuthConfig); err != nil {
		return err
	}
	envString("SECRET_ENCRYPTION_KEY", &c.SecretEncryptionKey)
	envInt("MAX_SUBSCRIPTIONS_PER_SCOPE", &c.MaxSubscriptionsPerScope)
	if v := os.Getenv("MATCHER_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MatcherCacheTTLSeconds = &n
		}
	}
	envInt("MATCHER_CACHE_SIZE", &c.MatcherCacheSize)
	envInt("DISPATCH_WORKERS", &c.DispatchWorkers)
	envInt("DELIVERY_MAX_ATTEMPTS", &c.DeliveryMaxAttempts)
	envInt("DELIVERY_TIMEOUT_SECONDS", &c.DeliveryTimeoutSeconds)
	envInt("LEASE_SECONDS", &c.LeaseSeconds)
	envInt("PROMOTE_INTERVAL_MS", &c.PromoteIntervalMs)
	envString("BACKOFF_POLICY", &c.BackoffPolicy)
	envInt("BACKOFF_BASE_SECONDS", &c.BackoffBaseSeconds)
	envInt("BACKOFF_MAX_SECONDS", &c.BackoffMaxSeconds)
	envString("ATTEMPT_STORE_TYPE", &c.AttemptStore.Type)
	if err := envJSON("ATTEMPT_STORE_CONFIG", &c.AttemptStore.Config); err != nil {
		return err
	}
	envInt("ATTEMPT_RETENTION_HOURS", &c.AttemptRetentionHours)
	envInt("ATTEMPT_HISTORY_LIMIT", &c.AttemptHistoryLimit)
	envInt("RETENTION_INTERVAL_SECONDS", &c.RetentionIntervalSeconds)
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = parseBool(v)
	}
	envString("OTEL_SERVICE_NAME", &c.Tracing.ServiceName)
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.MaxSubscriptionsPerScope == 0 {
		c.MaxSubscriptionsPerScope = 2
	}
	if c.MatcherCacheTTLSeconds == nil {
		ttl := 30
		c.MatcherCacheTTLSeconds = &ttl
	}
	if c.MatcherCacheSize <= 0 {
		c.MatcherCacheSize = 1024
	}
	if c.DispatchWorkers <= 0 {
		c.DispatchWorkers = 4
	}
	if c.DeliveryMaxAttempts <= 0 {
		c.DeliveryMaxAttempts = 5
	}
	if c.DeliveryTimeoutSeconds <= 0 {
		c.DeliveryTimeoutSeconds = 15
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 60
	}
	if c.PromoteIntervalMs <= 0 {
		c.PromoteIntervalMs = 500
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = string(backoff.ExpFullJitter)
	}
	if c.BackoffBaseSeconds <= 0 {
		c.BackoffBaseSeconds = 2
	}
	if c.BackoffMaxSeconds <= 0 {
		c.BackoffMaxSeconds = 300
	}
	if c.AttemptStore.Type == "" {
		c.AttemptStore.Type = "redis"
	}
	if c.AttemptRetentionHours <= 0 {
		c.AttemptRetentionHours = 168
	}
	if c.AttemptHistoryLimit <= 0 {
		c.AttemptHistoryLimit = 100
	}
	if c.RetentionIntervalSeconds <= 0 {
		c.RetentionIntervalSeconds = 300
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "hookq"
	}
}

// Validate reports every configuration problem at once. Dev environments may
// run without auth or a sealing key.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }
	dev := c.Env == "dev"

	if c.Port <= 0 || c.Port > 65535 {
		add("port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.RedisAddr) == "" {
		add("redisAddr is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		add("timezone %q is invalid", c.Timezone)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		add("logLevel must be one of debug, info, warn, error")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		add("logFormat must be json or text")
	}
	if strings.TrimSpace(c.AuthProvider) == "" && !dev {
		add("authProvider is required")
	}
	if c.SecretEncryptionKey == "" {
		if !dev {
			add("secretEncryptionKey is required")
		}
	} else if _, err := secrets.NewSealer(c.SecretEncryptionKey); err != nil {
		add("secretEncryptionKey: %v", err)
	}
	if c.MaxSubscriptionsPerScope < 0 {
		add("maxSubscriptionsPerScope must not be negative")
	}
	if c.MatcherCacheTTLSeconds != nil && *c.MatcherCacheTTLSeconds < 0 {
		add("matcherCacheTtlSeconds must not be negative")
	}
	if c.DeliveryTimeoutSeconds >= c.LeaseSeconds {
		add("leaseSeconds (%d) must exceed deliveryTimeoutSeconds (%d)", c.LeaseSeconds, c.DeliveryTimeoutSeconds)
	}
	if _, err := backoff.ParsePolicy(c.BackoffPolicy); err != nil {
		add("backoffPolicy: %v", err)
	}
	if c.BackoffMaxSeconds < c.BackoffBaseSeconds {
		add("backoffMaxSeconds must be >= backoffBaseSeconds")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		add("tracing.sampleRatio must be between 0 and 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) MatcherCacheTTL() time.Duration {
	if c.MatcherCacheTTLSeconds == nil {
		return 30 * time.Second
	}
	return time.Duration(*c.MatcherCacheTTLSeconds) * time.Second
}

func (c *Config) AuthProviderConfig() (auth.ProviderConfig, error) {
	raw, err := marshalConfig(c.AuthConfig)
	if err != nil {
		return auth.ProviderConfig{}, fmt.Errorf("authConfig: %w", err)
	}
	return auth.ProviderConfig{Type: c.AuthProvider, Config: raw}, nil
}

func (c *Config) AttemptStoreConfig() (persistence.ProviderConfig, error) {
	raw, err := marshalConfig(c.AttemptStore.Config)
	if err != nil {
		return persistence.ProviderConfig{}, fmt.Errorf("attemptStore.config: %w", err)
	}
	return persistence.ProviderConfig{Type: c.AttemptStore.Type, Config: raw}, nil
}

func marshalConfig(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}
