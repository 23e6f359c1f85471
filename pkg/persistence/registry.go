package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ProviderConfig contains provider-specific configuration
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// PluginConfig provides initialization parameters to attempt storage plugins
type PluginConfig struct {
	// Config contains plugin-specific configuration
	Config json.RawMessage

	// HistoryLimit caps stored attempts per subscription (0 = backend default)
	HistoryLimit int

	// Retention is how long attempts are kept before Purge may drop them
	Retention time.Duration

	// Redis is an optional shared client for the redis backend
	Redis *redis.Client
}

// PluginFactory creates attempt storage plugins from configuration
type PluginFactory func(config PluginConfig) (AttemptStorage, error)

var (
	registry = make(map[string]PluginFactory)
	mu       sync.RWMutex
)

// RegisterProvider registers an attempt storage factory for a provider type
func RegisterProvider(providerType string, factory PluginFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[providerType] = factory
}

// NewAttemptStorage creates an attempt storage from provider configuration
func NewAttemptStorage(providerConfig ProviderConfig, pluginConfig PluginConfig) (AttemptStorage, error) {
	mu.RLock()
	factory, ok := registry[providerConfig.Type]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown attempt storage provider type: %s", providerConfig.Type)
	}

	pluginConfig.Config = providerConfig.Config
	if len(pluginConfig.Config) == 0 {
		pluginConfig.Config = json.RawMessage("{}")
	}

	return factory(pluginConfig)
}

// ListProviders returns registered provider types, sorted
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()

	providers := make([]string, 0, len(registry))
	for name := range registry {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}
