package pkg

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/interp"
)

func TestGetProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte("[package]\n"), 0o644))

	nested := filepath.Join(root, "src", "bin")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := GetProjectRoot(nested)
	require.NoError(t, err)

	expected, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	actual, err := filepath.EvalSymlinks(found)
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(eris.New("plain failure")))
	assert.Equal(t, 3, ExitCode(eris.Wrap(eris.Wrap(interp.NewExitStatus(3), "task failed"), "dependency failed")))
}

func TestConsoleWriter(t *testing.T) {
	var out bytes.Buffer
	writer := NewConsoleWriter(&out)
	writer.NoColor = true

	logger := zerolog.New(writer)
	logger.Info().Str("task", "install").Msg("install -Dm755 calc /usr/local/bin/calc")
	logger.Warn().Msg("careful")

	assert.Equal(t, "install: install -Dm755 calc /usr/local/bin/calc\ncareful\n", out.String())
}

func TestConsoleWriterError(t *testing.T) {
	var out bytes.Buffer
	writer := NewConsoleWriter(&out)
	writer.NoColor = true

	logger := zerolog.New(writer)
	logger.Error().Err(eris.New("boom")).Msg("failed")

	assert.Contains(t, out.String(), "Error: failed\n")
	assert.Contains(t, out.String(), "boom")
}
