package repoconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyDocumentIsDefault(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseTrimsWhitespace(t *testing.T) {
	cfg, err := Parse([]byte("base_branch: \"  develop  \"\npr_title_template: \"  {branch}: {task}  \"\n"))
	require.NoError(t, err)
	assert.Equal(t, "develop", cfg.BaseBranch)
	assert.Equal(t, "{branch}: {task}", cfg.PRTitleTemplate)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("base_branch: [unterminated"))
	assert.Error(t, err)
}

func TestRenderTitleSubstitutesPlaceholders(t *testing.T) {
	got := RenderTitle("{branch}: {task}", "feature/login", "Add login flow")
	assert.Equal(t, "feature/login: Add login flow", got)
}

func TestRenderTitleIgnoresMissingPlaceholders(t *testing.T) {
	got := RenderTitle("Static title", "feature/login", "Add login flow")
	assert.Equal(t, "Static title", got)
}
