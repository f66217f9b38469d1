package llms

import (
	"fmt"
	"sort"

	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/models"
)

// BuildProviders constructs one adapter per enabled provider in the
// config. Providers without an API key are skipped.
func BuildProviders(cfg *config.Config, registry *models.Registry) (map[string]Provider, error) {
	providers := make(map[string]Provider)
	for name, pc := range cfg.Providers {
		if pc == nil || !pc.Enabled() {
			continue
		}
		switch name {
		case "openai":
			providers[name] = NewOpenAIProvider(pc, registry)
		case "anthropic":
			providers[name] = NewAnthropicProvider(pc, registry)
		case "groq":
			providers[name] = NewGroqProvider(pc, registry)
		default:
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured; set at least one API key")
	}
	return providers, nil
}

// ProviderNames returns the configured provider ids, sorted.
func ProviderNames(providers map[string]Provider) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
