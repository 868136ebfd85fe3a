package config

import (
	"fmt"
	"sync"
)

// PolicyConfig holds the runtime-tunable fallback rate limit.
type PolicyConfig struct {
	DefaultRateLimit float64 `json:"default_rate"`
	DefaultBurst     int     `json:"default_burst"`
}

func (p PolicyConfig) Validate() error {
	if p.DefaultRateLimit <= 0 {
		return fmt.Errorf("default_rate must be positive")
	}
	if p.DefaultBurst < 1 {
		return fmt.Errorf("default_burst must be at least 1")
	}
	return nil
}

// DynamicConfigManager manages thread-safe config updates
type DynamicConfigManager struct {
	mu     sync.RWMutex
	policy PolicyConfig
}

func NewDynamicConfigManager(rate float64, burst int) *DynamicConfigManager {
	return &DynamicConfigManager{
		policy: PolicyConfig{
			DefaultRateLimit: rate,
			DefaultBurst:     burst,
		},
	}
}

func (m *DynamicConfigManager) GetPolicy() PolicyConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// UpdatePolicy swaps in newPolicy after validating it.
func (m *DynamicConfigManager) UpdatePolicy(newPolicy PolicyConfig) error {
	if err := newPolicy.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = newPolicy
	return nil
}
