package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetermineLogLevel(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		env    string
		want   string
	}{
		{name: "default", want: "info"},
		{name: "explicit", config: Config{LogLevel: "trace", Verbose: true}, want: "trace"},
		{name: "invalid explicit", config: Config{LogLevel: "loud"}, want: "info"},
		{name: "verbose", config: Config{Verbose: true}, want: "debug"},
		{name: "quiet", config: Config{Quiet: true}, want: "warn"},
		{name: "verbose and quiet", config: Config{Verbose: true, Quiet: true}, want: "warn"},
		{name: "env", env: "error", want: "error"},
		{name: "flags beat env", config: Config{Verbose: true}, env: "error", want: "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.env)
			assert.Equal(t, tt.want, determineLogLevel(&tt.config))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("FORMSYNC_SCHEMA", "env-schema.yaml")
	t.Setenv("FORMSYNC_DATABASE", "env.db")
	t.Setenv("FORMSYNC_CONFIG", "")
	t.Setenv("FORMSYNC_FORMAT", "")

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "env-schema.yaml", config.SchemaPath)
	assert.Equal(t, "env.db", config.DatabasePath)
	assert.Equal(t, "json", config.Format)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "formsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema: file-schema.yaml\nformat: yaml\nlog-level: debug\n"), 0o644))

	t.Setenv("FORMSYNC_SCHEMA", "")
	t.Setenv("FORMSYNC_FORMAT", "")
	t.Setenv("FORMSYNC_CONFIG", path)

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "file-schema.yaml", config.SchemaPath)
	assert.Equal(t, "yaml", config.Format)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, path, config.ConfigFile)

	_, err = loadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigUpdates(t *testing.T) {
	c := &Config{Format: "json", SchemaPath: "a.yaml"}
	c.UpdateFromFlags(true, false, true, "", "")
	assert.True(t, c.Verbose)
	assert.True(t, c.NoColor)
	assert.Equal(t, "json", c.Format)

	c.UpdateFromFlags(false, false, false, "table", "warn")
	assert.Equal(t, "table", c.Format)
	assert.Equal(t, "warn", c.LogLevel)

	c.UpdateSources("", "x.db")
	assert.Equal(t, "a.yaml", c.SchemaPath)
	assert.Equal(t, "x.db", c.DatabasePath)

	c.merge(&Config{ConfigFile: "f.yaml", SchemaPath: "b.yaml", Format: "yaml"})
	assert.Equal(t, "f.yaml", c.ConfigFile)
	assert.Equal(t, "b.yaml", c.SchemaPath)
	assert.Equal(t, "x.db", c.DatabasePath)
	assert.Equal(t, "yaml", c.Format)
}
