package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_DocStreamBasics(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/doc_stream_basics.yaml")
	require.NoError(t, err)

	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden_DocStreamBasics -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestMarshalTrace_IsStable(t *testing.T) {
	scenario := mustParse(t, minimalScenario)
	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Contains(t, string(a), `"line": "1 ok ()"`)
	assert.Contains(t, string(a), `<Entity name=\"a\" x=\"2\" />`, "HTML characters are not escaped")
}

func TestWriteGolden_ThenCompare(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "golden")
	scenario := mustParse(t, minimalScenario)
	result, err := Run(scenario)
	require.NoError(t, err)

	_, err = CompareGolden(dir, scenario.Name, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, WriteGolden(dir, scenario.Name, result))
	same, err := CompareGolden(dir, scenario.Name, result)
	require.NoError(t, err)
	assert.True(t, same)

	result.AddRecv(9, 9, "c1", "9 ok ()")
	same, err = CompareGolden(dir, scenario.Name, result)
	require.NoError(t, err)
	assert.False(t, same)
}
