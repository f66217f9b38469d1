package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk catalog shape.
type catalogFile struct {
	Models []*Spec `yaml:"models"`
	// Required lists the minimum-supported model ids per provider.
	Required map[string][]string `yaml:"required"`
}

// LoadCatalog reads a YAML model catalog, builds a registry and runs the
// integrity check against the file's required set. An empty path builds
// the registry from the built-in table.
func LoadCatalog(path string) (*Registry, error) {
	if path == "" {
		reg, err := NewRegistry(DefaultCatalog())
		if err != nil {
			return nil, err
		}
		if err := reg.VerifyIntegrity(DefaultRequired()); err != nil {
			return nil, err
		}
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}
	reg, err := NewRegistry(cf.Models)
	if err != nil {
		return nil, err
	}
	if err := reg.VerifyIntegrity(cf.Required); err != nil {
		return nil, err
	}
	return reg, nil
}

// DefaultCatalog returns the built-in model table used when no catalog
// file is configured.
func DefaultCatalog() []*Spec {
	text := []Capability{CapTextGeneration, CapStreaming}
	tooling := []Capability{CapTextGeneration, CapFunctionCalling, CapStructuredOutput, CapStreaming}
	full := []Capability{CapTextGeneration, CapFunctionCalling, CapStructuredOutput, CapVision, CapLongContext, CapStreaming}

	return []*Spec{
		{
			Provider: "openai", Model: "gpt-4o", DisplayName: "GPT-4o",
			Caps:           full,
			MaxInputTokens: 128000, MaxOutputTokens: 16384,
			InputCostPerM: 2.50, OutputCostPerM: 10.00,
			ExpectedLatencyMs: 1200, Quality: 0.92, KnowledgeCutoff: "2023-10",
		},
		{
			Provider: "openai", Model: "gpt-4o-mini", DisplayName: "GPT-4o mini",
			Caps:           full,
			MaxInputTokens: 128000, MaxOutputTokens: 16384,
			InputCostPerM: 0.15, OutputCostPerM: 0.60,
			ExpectedLatencyMs: 800, Quality: 0.82, KnowledgeCutoff: "2023-10",
		},
		{
			Provider: "openai", Model: "o3-mini", DisplayName: "o3-mini",
			Caps:           append([]Capability{CapReasoning}, tooling...),
			MaxInputTokens: 200000, MaxOutputTokens: 100000,
			InputCostPerM: 1.10, OutputCostPerM: 4.40,
			ExpectedLatencyMs: 4000, Quality: 0.90, KnowledgeCutoff: "2024-06",
		},
		{
			Provider: "anthropic", Model: "claude-sonnet-4-20250514", DisplayName: "Claude Sonnet 4",
			Caps:           append([]Capability{CapReasoning}, full...),
			MaxInputTokens: 200000, MaxOutputTokens: 64000,
			InputCostPerM: 3.00, OutputCostPerM: 15.00,
			ExpectedLatencyMs: 1500, Quality: 0.94, KnowledgeCutoff: "2025-03",
		},
		{
			Provider: "anthropic", Model: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku",
			Caps:           tooling,
			MaxInputTokens: 200000, MaxOutputTokens: 8192,
			InputCostPerM: 0.80, OutputCostPerM: 4.00,
			ExpectedLatencyMs: 700, Quality: 0.78, KnowledgeCutoff: "2024-07",
		},
		{
			Provider: "groq", Model: "llama-3.3-70b-versatile", DisplayName: "Llama 3.3 70B",
			Caps:           append([]Capability{CapLongContext}, tooling...),
			MaxInputTokens: 128000, MaxOutputTokens: 32768,
			InputCostPerM: 0.59, OutputCostPerM: 0.79,
			ExpectedLatencyMs: 400, Quality: 0.80, KnowledgeCutoff: "2023-12",
		},
		{
			Provider: "groq", Model: "llama-3.1-8b-instant", DisplayName: "Llama 3.1 8B",
			Caps:           text,
			MaxInputTokens: 128000, MaxOutputTokens: 8192,
			InputCostPerM: 0.05, OutputCostPerM: 0.08,
			ExpectedLatencyMs: 250, Quality: 0.65, KnowledgeCutoff: "2023-12",
		},
	}
}

// DefaultRequired is the minimum-supported set for the built-in catalog.
func DefaultRequired() map[string][]string {
	return map[string][]string{
		"openai":    {"gpt-4o", "gpt-4o-mini"},
		"anthropic": {"claude-sonnet-4-20250514"},
		"groq":      {"llama-3.3-70b-versatile"},
	}
}
