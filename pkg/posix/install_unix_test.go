//go:build !windows

package posix

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallCreatesLeadingDirectories(t *testing.T) {
	oldMask := syscall.Umask(0o077)
	defer syscall.Umask(oldMask)

	dir := t.TempDir()
	src := filepath.Join(dir, "target", "release", "calc")
	writeFile(t, src, "binary")

	dest := filepath.Join(dir, "stage", "opt", "bin", "calc")
	err := Install([]string{src}, dest, InstallOptions{CreateLeading: true, Mode: 0o755})
	require.NoError(t, err)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "binary", string(content))
}

func TestInstallKeepsExplicitZeroMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "calc")
	writeFile(t, src, "binary")

	dest := filepath.Join(dir, "out", "calc")
	require.NoError(t, Install([]string{src}, dest, InstallOptions{CreateLeading: true, Mode: 0}))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0), info.Mode().Perm())
}
