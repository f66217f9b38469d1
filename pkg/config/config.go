// Copyright 2026 Workforce Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the process configuration, loaded once at start.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	// Providers configures the LLM vendors. A provider with no API key is
	// disabled (its adapter is not constructed).
	Providers map[string]*ProviderConfig `yaml:"providers,omitempty" json:"providers,omitempty" jsonschema:"title=Providers,description=LLM provider credentials and endpoints"`

	// DefaultModel is the provider/model id used when a request names none
	// and routing yields no preference.
	DefaultModel string `yaml:"default_model,omitempty" json:"default_model,omitempty" jsonschema:"title=Default Model"`

	// Generation defaults applied when a request leaves knobs unset.
	MaxTokens   int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"default=4096"`
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"default=0.7"`

	// ModelCatalogPath points at the YAML model catalog. Empty uses the
	// built-in table.
	ModelCatalogPath string `yaml:"model_catalog,omitempty" json:"model_catalog,omitempty"`

	// RoutingPolicyPath points at the persisted task-type → model-id JSON
	// map. Watched for changes when set.
	RoutingPolicyPath string `yaml:"routing_policy,omitempty" json:"routing_policy,omitempty"`

	// RedisURL enables the shared cache/limiter/session tier. Empty falls
	// back to in-process stores.
	RedisURL string `yaml:"redis_url,omitempty" json:"redis_url,omitempty"`

	Cache     CacheConfig     `yaml:"cache,omitempty" json:"cache,omitempty"`
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty" json:"session,omitempty"`
	Workflow  WorkflowConfig  `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	Server    ServerConfig    `yaml:"server,omitempty" json:"server,omitempty"`
}

// ProviderConfig holds one vendor's credentials and endpoint.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key (use ${ENV_VAR})"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Timeout per provider round-trip, seconds.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"default=60"`

	// MaxRetries for transport-level retry inside the HTTP client.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"default=3"`

	// RetryDelay base delay, seconds.
	RetryDelay int `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty" jsonschema:"default=2"`
}

// Enabled reports whether this provider can be constructed.
func (p *ProviderConfig) Enabled() bool {
	return p != nil && p.APIKey != ""
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	// TTL for cached responses. Default one hour.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// MaxLocalEntries is the local tier soft cap. Default 1000.
	MaxLocalEntries int `yaml:"max_local_entries,omitempty" json:"max_local_entries,omitempty"`
}

// RateLimitConfig holds the per-provider default caps.
type RateLimitConfig struct {
	RequestsPerMinute int64   `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
	RequestsPerHour   int64   `yaml:"requests_per_hour,omitempty" json:"requests_per_hour,omitempty"`
	CostPerHourUSD    float64 `yaml:"cost_per_hour_usd,omitempty" json:"cost_per_hour_usd,omitempty"`
}

// SessionConfig holds expiry windows and sweeper cadence.
type SessionConfig struct {
	MCPExpiry     time.Duration `yaml:"mcp_expiry,omitempty" json:"mcp_expiry,omitempty"`
	A2AExpiry     time.Duration `yaml:"a2a_expiry,omitempty" json:"a2a_expiry,omitempty"`
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty" json:"sweep_interval,omitempty"`
}

// WorkflowConfig holds orchestration defaults.
type WorkflowConfig struct {
	MaxDuration time.Duration `yaml:"max_duration,omitempty" json:"max_duration,omitempty"`
	MaxCostUSD  float64       `yaml:"max_cost_usd,omitempty" json:"max_cost_usd,omitempty"`
	MaxRetries  int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// ContinueOnDependencyFailure leaves downstream tasks pending instead
	// of cascade-cancelling them.
	ContinueOnDependencyFailure bool `yaml:"continue_on_dependency_failure,omitempty" json:"continue_on_dependency_failure,omitempty"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=8080"`
}

// Default returns a config populated with defaults.
func Default() *Config {
	return &Config{
		Providers:   map[string]*ProviderConfig{},
		MaxTokens:   4096,
		Temperature: 0.7,
		Cache: CacheConfig{
			TTL:             time.Hour,
			MaxLocalEntries: 1000,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			CostPerHourUSD:    50,
		},
		Session: SessionConfig{
			MCPExpiry:     time.Hour,
			A2AExpiry:     2 * time.Hour,
			SweepInterval: time.Minute,
		},
		Workflow: WorkflowConfig{
			MaxDuration: 30 * time.Minute,
			MaxCostUSD:  10,
			MaxRetries:  3,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

// SetDefaults fills zero values in place.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Providers == nil {
		c.Providers = map[string]*ProviderConfig{}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = d.Temperature
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Cache.MaxLocalEntries == 0 {
		c.Cache.MaxLocalEntries = d.Cache.MaxLocalEntries
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = d.RateLimit.RequestsPerMinute
	}
	if c.RateLimit.RequestsPerHour == 0 {
		c.RateLimit.RequestsPerHour = d.RateLimit.RequestsPerHour
	}
	if c.RateLimit.CostPerHourUSD == 0 {
		c.RateLimit.CostPerHourUSD = d.RateLimit.CostPerHourUSD
	}
	if c.Session.MCPExpiry == 0 {
		c.Session.MCPExpiry = d.Session.MCPExpiry
	}
	if c.Session.A2AExpiry == 0 {
		c.Session.A2AExpiry = d.Session.A2AExpiry
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = d.Session.SweepInterval
	}
	if c.Workflow.MaxDuration == 0 {
		c.Workflow.MaxDuration = d.Workflow.MaxDuration
	}
	if c.Workflow.MaxCostUSD == 0 {
		c.Workflow.MaxCostUSD = d.Workflow.MaxCostUSD
	}
	if c.Workflow.MaxRetries == 0 {
		c.Workflow.MaxRetries = d.Workflow.MaxRetries
	}
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	for name, p := range c.Providers {
		if p == nil {
			c.Providers[name] = &ProviderConfig{}
			p = c.Providers[name]
		}
		if p.Timeout == 0 {
			p.Timeout = 60
		}
		if p.MaxRetries == 0 {
			p.MaxRetries = 3
		}
		if p.RetryDelay == 0 {
			p.RetryDelay = 2
		}
	}
}

// Validate checks config consistency.
func (c *Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %f outside [0,2]", c.Temperature)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	for name, p := range c.Providers {
		switch name {
		case "openai", "anthropic", "groq":
		default:
			return fmt.Errorf("unknown provider %q (supported: openai, anthropic, groq)", name)
		}
		if p.Timeout < 0 || p.MaxRetries < 0 {
			return fmt.Errorf("provider %s: negative timeout or retries", name)
		}
	}
	return nil
}
