package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pondoc/internal/document"
)

func TestSnapshot_Latest(t *testing.T) {
	db := seedJournal(t)

	out, _, err := execute(t, "snapshot", "latest", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, document.XMLHeader)
	assert.Contains(t, out, `x="5"`)
}

func TestSnapshot_Cycle(t *testing.T) {
	db := seedJournal(t)

	out, _, err := execute(t, "snapshot", "s1", "--db", db, "--cycle", "0")
	require.NoError(t, err)
	assert.Contains(t, out, `x="1"`)

	out, _, err = execute(t, "snapshot", "s1", "--db", db, "--cycle", "7", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "no snapshot of cycle 7")
}

func TestSnapshot_List(t *testing.T) {
	db := seedJournal(t)

	out, _, err := execute(t, "snapshot", "s1", "--db", db, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "CYCLE")

	out, _, err = execute(t, "snapshot", "s1", "--db", db, "--list", "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data []SnapshotInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, uint64(0), resp.Data[0].Cycle)
	assert.Equal(t, uint64(2), resp.Data[1].Cycle)
	assert.Equal(t, 4, resp.Data[1].Entities)
	assert.Len(t, resp.Data[1].Hash, 64)
	assert.Empty(t, resp.Data[1].XML)
}
