package githubfetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePRRef(t *testing.T) {
	ref, err := ParsePRRef("acme/widgets#42")
	require.NoError(t, err)
	assert.Equal(t, "acme", ref.Owner)
	assert.Equal(t, "widgets", ref.Repo)
	assert.Equal(t, 42, ref.Number)
	assert.Equal(t, "acme/widgets#42", ref.String())
	assert.Equal(t, "acme/widgets", ref.Repository())
}

func TestParsePRRefInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"acme",
		"acme/widgets",
		"acme#42",
		"acme/widgets#",
		"acme/widgets#zero",
		"acme/widgets#0",
		"/widgets#1",
	} {
		_, err := ParsePRRef(s)
		assert.Error(t, err, s)
	}
}
