package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocs_JSON(t *testing.T) {
	out, _, err := execute(t, "docs")
	require.NoError(t, err)

	var modules []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &modules))
	assert.NotEmpty(t, modules)
	assert.Contains(t, out, `"add"`)
}

func TestDocs_List(t *testing.T) {
	out, _, err := execute(t, "docs", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "add")
	assert.Contains(t, out, "Add a list of numbers")
}

func TestDocs_OutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.json")
	out, _, err := execute(t, "docs", "-o", path)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestDocs_MatchesGenPonDocs(t *testing.T) {
	docs, _, err := execute(t, "docs")
	require.NoError(t, err)
	gen, _, err := execute(t, "serve", "--genpondocs")
	require.NoError(t, err)
	assert.Equal(t, docs, gen)
}
