package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_Constant(t *testing.T) {
	out, _, err := execute(t, "eval", "add [1, 2, 3]")
	require.NoError(t, err)
	assert.Equal(t, "6\n", out)
}

func TestEval_AgainstDocument(t *testing.T) {
	path := writeFile(t, "scene.xml", sceneXML)

	out, _, err := execute(t, "eval", "--doc", path, "--entity", "root:[name=cam]", "@this.target")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, _, err = execute(t, "eval", "--doc", path, "@a.x")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestEval_JSON(t *testing.T) {
	out, _, err := execute(t, "eval", "--format", "json", "add [1, 2]")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   EvalResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "3", resp.Data.Value)
	assert.Equal(t, uint64(1), resp.Data.Entity)
}

func TestEval_Errors(t *testing.T) {
	path := writeFile(t, "scene.xml", sceneXML)

	tests := []struct {
		name     string
		args     []string
		exitCode int
		code     string
	}{
		{"parse error", []string{"eval", "add ["}, ExitCommandError, CodeParse},
		{"unknown entity", []string{"eval", "--doc", path, "--entity", "root:[name=nope]", "1"}, ExitCommandError, CodeNotFound},
		{"evaluation error", []string{"eval", "--doc", path, "@this.nope"}, ExitFailure, CodeEval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			assert.Empty(t, out, "text mode leaves the error to the caller")

			out, _, err = execute(t, append(tt.args, "--format", "json")...)
			require.Error(t, err)
			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}
