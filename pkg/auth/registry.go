package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderConfig selects a registered provider and carries its raw JSON config.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

// ValidatorFactory builds a Validator from provider JSON.
type ValidatorFactory func(config json.RawMessage) (Validator, error)

var (
	registry = make(map[string]ValidatorFactory)
	mu       sync.RWMutex
)

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterProvider makes a provider available to NewValidator. Providers
// register from init; a later registration under the same name wins.
func RegisterProvider(providerType string, factory ValidatorFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[normalizeProvider(providerType)] = factory
}

// NewValidator builds the validator named by providerConfig.Type. An empty
// config is passed to the factory as "{}".
func NewValidator(providerConfig ProviderConfig) (Validator, error) {
	name := normalizeProvider(providerConfig.Type)
	if name == "" {
		return nil, fmt.Errorf("auth provider type is required")
	}
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown auth provider type: %s (registered: %s)", providerConfig.Type, strings.Join(ListProviders(), ", "))
	}

	raw := providerConfig.Config
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	v, err := factory(raw)
	if err != nil {
		return nil, fmt.Errorf("auth provider %s: %w", name, err)
	}
	return v, nil
}

// ListProviders returns registered provider types, sorted.
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
