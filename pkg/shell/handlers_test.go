package shell

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

func runScript(t *testing.T, dir, script string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(Options(dir, &stdout, &stderr)...)
	require.NoError(t, err)

	file, err := syntax.NewParser().Parse(strings.NewReader(script), "test.sh")
	require.NoError(t, err)

	err = runner.Run(context.Background(), file)
	return stdout.String(), stderr.String(), err
}

func TestInstallBuiltin(t *testing.T) {
	dir := t.TempDir()
	_, stderr, err := runScript(t, dir, `
mkdir -p target/release
echo binary > target/release/calc
install -Dm755 target/release/calc "stage/opt/bin/calc"
echo docs > README.md
install -Dm644 README.md stage/usr/share/doc/calc/README.md
`)
	require.NoError(t, err, stderr)

	info, err := os.Stat(filepath.Join(dir, "stage", "opt", "bin", "calc"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dir, "stage", "usr", "share", "doc", "calc", "README.md"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestInstallBuiltinModes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	dir := t.TempDir()
	_, stderr, err := runScript(t, dir, `
echo binary > calc
install -D calc default/calc
install -m 0 calc zero
install -m 0600 calc private
`)
	require.NoError(t, err, stderr)

	for name, mode := range map[string]os.FileMode{
		"default/calc": 0o755,
		"zero":         0,
		"private":      0o600,
	} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, mode, info.Mode().Perm(), name)
	}
}

func TestInstallBuiltinFailureStatus(t *testing.T) {
	dir := t.TempDir()
	_, stderr, err := runScript(t, dir, `install -Dm755 missing out/bin/calc`)
	require.Error(t, err)

	status, ok := interp.IsExitStatus(err)
	require.True(t, ok)
	assert.Equal(t, uint8(1), status)
	assert.Contains(t, stderr, "install:")
}

func TestRemoveBuiltinIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "calc"), []byte("x"), 0o755))

	_, stderr, err := runScript(t, dir, "rm -f bin/calc\nrm -f bin/calc\n")
	require.NoError(t, err, stderr)

	_, err = os.Stat(filepath.Join(dir, "bin", "calc"))
	assert.True(t, os.IsNotExist(err))
}

func TestMoveBuiltin(t *testing.T) {
	dir := t.TempDir()
	_, stderr, err := runScript(t, dir, "echo a > a.txt\nmkdir out\nmv a.txt out\n")
	require.NoError(t, err, stderr)

	_, err = os.Stat(filepath.Join(dir, "out", "a.txt"))
	assert.NoError(t, err)
}

func TestDevNullRedirect(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := runScript(t, dir, "echo hidden > /dev/null\necho shown\n")
	require.NoError(t, err)
	assert.Equal(t, "shown\n", stdout)
}

func TestGitQueries(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	for i, name := range []string{"a", "b"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
		_, err = wt.Add(name)
		require.NoError(t, err)
		_, err = wt.Commit(name, &git.CommitOptions{
			Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Unix(int64(1700000000+i), 0)},
		})
		require.NoError(t, err)
	}

	head, err := repo.Head()
	require.NoError(t, err)

	stdout, stderr, err := runScript(t, dir, `printf "0.1.0.r%s.g%s" "$(git rev-list --count HEAD)" "$(git rev-parse --short HEAD)"`)
	require.NoError(t, err, stderr)
	assert.Equal(t, "0.1.0.r2.g"+head.Hash().String()[:7], stdout)
}

func TestGitQueryOutsideRepository(t *testing.T) {
	dir := t.TempDir()
	_, stderr, err := runScript(t, dir, `git rev-list --count HEAD`)
	require.Error(t, err)
	assert.Contains(t, stderr, "not a git repository")
}
