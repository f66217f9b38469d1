package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSections(t *testing.T) {
	tmpl := &Template{
		Role:        "You are a {role}.",
		Task:        "Do {thing}.",
		Format:      "JSON",
		Context:     "Prior step produced {prior}.",
		Constraints: []string{"Be brief"},
		Examples:    []string{"example one"},
	}
	out := tmpl.Render(map[string]string{
		"role":  "tester",
		"thing": "the work",
		"prior": "nothing",
	})

	assert.Contains(t, out, "Role: You are a tester.")
	assert.Contains(t, out, "Task: Do the work.")
	assert.Contains(t, out, "Context: Prior step produced nothing.")
	assert.Contains(t, out, "Constraints:\n- Be brief")
	assert.Contains(t, out, "Examples:\n- example one")
	assert.Contains(t, out, "Format: JSON")

	// Section order: Role before Task before Format.
	assert.Less(t, strings.Index(out, "Role:"), strings.Index(out, "Task:"))
	assert.Less(t, strings.Index(out, "Task:"), strings.Index(out, "Format:"))
}

func TestRenderOmitsEmptySections(t *testing.T) {
	tmpl := &Template{Role: "r", Task: "t", Format: "f"}
	out := tmpl.Render(nil)
	assert.NotContains(t, out, "Context:")
	assert.NotContains(t, out, "Constraints:")
	assert.NotContains(t, out, "Examples:")
}

func TestSubstituteLeavesUnknownPlaceholders(t *testing.T) {
	out := Substitute("{known} and {unknown}", map[string]string{"known": "v"})
	assert.Equal(t, "v and {unknown}", out)
}

func TestEnvelopeClaude(t *testing.T) {
	out := Envelope("anthropic/claude-sonnet-4-20250514", "doc")
	assert.True(t, strings.HasPrefix(out, "Human: doc"))
	assert.True(t, strings.HasSuffix(out, "Assistant:"))
}

func TestEnvelopeLlama(t *testing.T) {
	out := Envelope("groq/llama-3.3-70b-versatile", "doc")
	assert.True(t, strings.HasPrefix(out, "### Instruction:\ndoc"))
	assert.Contains(t, out, "### Response:")
}

func TestEnvelopeOpenAIPassthrough(t *testing.T) {
	assert.Equal(t, "doc", Envelope("openai/gpt-4o", "doc"))
}

func TestForRole(t *testing.T) {
	for _, role := range []string{
		"researcher", "analyst", "writer", "coder", "reviewer",
		"planner", "executor", "coordinator", "validator",
	} {
		tmpl, err := ForRole(role)
		require.NoError(t, err, role)
		assert.NotEmpty(t, tmpl.Role)
		assert.Contains(t, tmpl.Task, "{input}")
	}

	_, err := ForRole("astronaut")
	assert.Error(t, err)
}
