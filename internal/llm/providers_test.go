package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderConstruction(t *testing.T) {
	triage, err := NewTriageProvider("test-key", "gemini-2.0-flash")
	require.NoError(t, err)
	require.NotNil(t, triage)
	assert.NotEmpty(t, triage.ModelID())

	deep, err := NewDeepProvider("test-key", "claude-sonnet-4-5-20250929")
	require.NoError(t, err)
	require.NotNil(t, deep)
	assert.NotEmpty(t, deep.ModelID())
}
