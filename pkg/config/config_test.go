package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.JSON)
	assert.Equal(t, "tasks.star", cfg.Project.Tasks)
	assert.Equal(t, "PKGBUILD", cfg.Package.Recipe)
	assert.Equal(t, "zst", cfg.Package.Compression)
	assert.Equal(t, 30*time.Minute, cfg.Download.Timeout)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(file, []byte(`
[log]
level = "warn"

[package]
compression = "xz"
`), 0o644))

	t.Setenv("TOOL_LOG_LEVEL", "debug")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, "xz", cfg.Package.Compression)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)

	cfg.Log.Level = "loud"
	assert.ErrorContains(t, cfg.Validate(), "log.level")

	cfg.Log.Level = "info"
	cfg.Package.Compression = "rar"
	assert.ErrorContains(t, cfg.Validate(), "package.compression")
}
