package posix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("755")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), mode)

	mode, err = ParseMode("0644")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), mode)

	_, err = ParseMode("u+x")
	assert.Error(t, err)

	_, err = ParseMode("77777")
	assert.Error(t, err)
}

func TestInstallOverwritesExistingFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "README.md")
	writeFile(t, src, "new")
	dest := filepath.Join(dir, "doc", "README.md")
	writeFile(t, dest, "old")
	require.NoError(t, os.Chmod(dest, 0o600))

	require.NoError(t, Install([]string{src}, dest, InstallOptions{Mode: 0o644}))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestInstallIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	dest := filepath.Join(dir, "out")
	err := Install([]string{a, b}, dest, InstallOptions{})
	assert.Error(t, err, "multiple sources need an existing directory or -D")

	require.NoError(t, Install([]string{a, b}, dest, InstallOptions{CreateLeading: true, Mode: DefaultInstallMode}))
	for _, name := range []string{"a", "b"} {
		info, err := os.Stat(filepath.Join(dest, name))
		require.NoError(t, err)
		assert.Equal(t, DefaultInstallMode, info.Mode().Perm())
	}
}

func TestInstallDirectories(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "usr", "share")
	second := filepath.Join(dir, "usr", "bin")

	require.NoError(t, Install([]string{first}, second, InstallOptions{Directories: true, Mode: 0o750}))
	for _, path := range []string{first, second} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
	}
}

func TestInstallMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := Install([]string{filepath.Join(dir, "missing")}, filepath.Join(dir, "dest"), InstallOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInstallRejectsDirectorySource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0o755))
	err := Install([]string{filepath.Join(dir, "src")}, filepath.Join(dir, "dest"), InstallOptions{})
	assert.Error(t, err)
}

func TestRemoveIsIdempotentWithForce(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "bin", "calc")
	writeFile(t, target, "binary")

	require.NoError(t, Remove([]string{target}, false, true))
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, Remove([]string{target}, false, true))
}

func TestRemoveWithoutForceFailsOnMissing(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, Remove([]string{filepath.Join(dir, "missing")}, false, false))
}

func TestRemoveDirectoryNeedsRecursive(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	writeFile(t, filepath.Join(target, "debug", "calc"), "binary")
	keep := filepath.Join(dir, "keep")
	writeFile(t, keep, "keep")

	err := Remove([]string{keep, target}, false, false)
	require.Error(t, err)
	_, err = os.Stat(keep)
	assert.NoError(t, err, "nothing is deleted when one path fails the checks")

	require.NoError(t, Remove([]string{target}, true, false))
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestMkdir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")

	assert.Error(t, Mkdir([]string{nested}, false, 0))
	require.NoError(t, Mkdir([]string{nested}, true, 0))
	require.NoError(t, Mkdir([]string{nested}, true, 0), "existing directories are fine with -p")

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "calc")
	writeFile(t, src, "binary")

	renamed := filepath.Join(dir, "calculator_cli")
	require.NoError(t, Move([]string{src}, renamed))
	_, err := os.Stat(renamed)
	require.NoError(t, err)

	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(outDir, 0o755))
	require.NoError(t, Move([]string{renamed}, outDir))
	_, err = os.Stat(filepath.Join(outDir, "calculator_cli"))
	assert.NoError(t, err)
}

func TestMoveMultipleNeedsDirectory(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	assert.Error(t, Move([]string{a, b}, filepath.Join(dir, "c")))
}
