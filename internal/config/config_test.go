package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4303, cfg.Port)
	assert.Equal(t, 60.0, cfg.MaxFPS)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CUE(t *testing.T) {
	path := writeFile(t, "pondoc.cue", `
port:           5000
fixed_timestep: 0.016
document:       "scene.xml"
watch:          true
log_level:      "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, 0.016, cfg.FixedTimestep)
	assert.Equal(t, "scene.xml", cfg.Document)
	assert.True(t, cfg.Watch)
	assert.Equal(t, 60.0, cfg.MaxFPS, "schema default")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_CUEDefaultsMatchGo(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.cue", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_CUEErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
	}{
		{"unknown field", "port: 1\nbogus: 2\n", 2},
		{"out of range", "port: 70000\n", 0},
		{"bad level", "log_level: \"loud\"\n", 0},
		{"syntax", "port: [\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.cue", tt.content))
			require.Error(t, err)
			var le *LoadError
			require.ErrorAs(t, err, &le)
			if tt.line > 0 {
				assert.Equal(t, tt.line, le.Line)
			}
		})
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "pondoc.toml", `
port = 0
http_addr = "127.0.0.1:9090"
database = "journal.db"
snapshot_every = 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Port)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
	assert.Equal(t, "journal.db", cfg.Database)
	assert.Equal(t, uint64(10), cfg.SnapshotEvery)
	assert.Equal(t, "info", cfg.LogLevel, "absent keys keep defaults")
}

func TestLoad_TOMLUnknownKey(t *testing.T) {
	_, err := Load(writeFile(t, "pondoc.toml", "port = 1\nmaxfps = 3\n"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Line)
	assert.Contains(t, le.Error(), "maxfps")
}

func TestLoad_TOMLSyntax(t *testing.T) {
	_, err := Load(writeFile(t, "pondoc.toml", "port = \n"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 1, le.Line)
}

func TestLoad_Rejects(t *testing.T) {
	_, err := Load(writeFile(t, "pondoc.yaml", "port: 1"))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"watch without document", func(c *Config) { c.Watch = true }, "Document is required"},
		{"snapshots without database", func(c *Config) { c.SnapshotEvery = 5 }, "Database is required"},
		{"bad http addr", func(c *Config) { c.HTTPAddr = "nope" }, "HTTPAddr must be host:port"},
		{"negative fps", func(c *Config) { c.MaxFPS = -1 }, "MaxFPS failed gte=0"},
		{"bad level", func(c *Config) { c.LogLevel = "trace" }, "LogLevel must be one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "INFO", cfg.SlogLevel().String())
	cfg.LogLevel = "debug"
	assert.Equal(t, "DEBUG", cfg.SlogLevel().String())
}
