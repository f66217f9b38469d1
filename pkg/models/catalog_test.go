package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogEmptyPathUsesBuiltin(t *testing.T) {
	reg, err := LoadCatalog("")
	require.NoError(t, err)

	assert.Equal(t, len(DefaultCatalog()), reg.Count())
	for provider, ids := range DefaultRequired() {
		for _, model := range ids {
			_, err := reg.Get(provider + "/" + model)
			assert.NoError(t, err, "%s/%s should be in the built-in table", provider, model)
		}
	}
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `
models:
  - provider: openai
    model: gpt-4o
    capabilities: [text-generation]
    input_cost_per_m: 2.5
    output_cost_per_m: 10
required:
  openai: [gpt-4o]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Count())
}

func TestLoadCatalogFileFailsIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `
models:
  - provider: openai
    model: gpt-4o
    capabilities: [text-generation]
required:
  openai: [gpt-4o, gpt-4o-mini]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadCatalog(path)
	assert.ErrorIs(t, err, ErrIntegrity)
}
