package agent

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryAppendBelowThreshold(t *testing.T) {
	m := NewMemory()
	for i := 0; i < shortTermThreshold; i++ {
		m.Append(Interaction{TaskName: fmt.Sprintf("t%d", i), Response: "r"})
	}
	assert.Len(t, m.Recent(), shortTermThreshold)
	assert.Empty(t, m.Summaries())
}

func TestMemoryCompression(t *testing.T) {
	m := NewMemory()
	base := time.Now()
	for i := 0; i < shortTermThreshold+1; i++ {
		m.Append(Interaction{
			TaskName: fmt.Sprintf("t%d", i),
			Response: fmt.Sprintf("response %d", i),
			At:       base.Add(time.Duration(i) * time.Second),
		})
	}

	// The last five stay verbatim, the rest are compressed.
	recent := m.Recent()
	assert.Len(t, recent, keepVerbatim)
	assert.Equal(t, "t8", recent[len(recent)-1].TaskName)
	assert.Len(t, m.Summaries(), shortTermThreshold+1-keepVerbatim)
}

func TestMemoryLongTerm(t *testing.T) {
	m := NewMemory()
	m.Remember("project", "foreman")

	v, ok := m.Recall("project")
	assert.True(t, ok)
	assert.Equal(t, "foreman", v)

	_, ok = m.Recall("missing")
	assert.False(t, ok)
}
