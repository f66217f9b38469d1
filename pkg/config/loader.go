package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a YAML config file, expanding environment
// references. An empty path returns defaults (provider keys pulled from
// the conventional environment variables).
func Load(path string) (*Config, error) {
	_ = LoadDotEnv("")

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.SetDefaults()
	expandConfigEnv(cfg)
	applyEnvKeys(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvKeys fills provider keys from conventional environment
// variables when the config file names none.
func applyEnvKeys(c *Config) {
	envKeys := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"groq":      "GROQ_API_KEY",
	}
	for provider, envVar := range envKeys {
		key := os.Getenv(envVar)
		if key == "" {
			continue
		}
		p, ok := c.Providers[provider]
		if !ok || p == nil {
			p = &ProviderConfig{Timeout: 60, MaxRetries: 3, RetryDelay: 2}
			c.Providers[provider] = p
		}
		if p.APIKey == "" {
			p.APIKey = key
		}
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
}
