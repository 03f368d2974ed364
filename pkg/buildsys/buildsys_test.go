package buildsys

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
)

var quiet = RunOptions{Stdout: io.Discard, Stderr: io.Discard}

func writeTaskFile(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, TaskFileName), []byte(content), 0o644))
}

// fakeRelease creates the artifact cargo would have produced.
func fakeRelease(t *testing.T, root, binary string) {
	t.Helper()
	dir := filepath.Join(root, "target", "release")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, binary), []byte("#!/bin/sh\n"), 0o600))
}

func TestDefaultTasks(t *testing.T) {
	root := t.TempDir()
	tasks, options, err := LoadTasks(context.Background(), root, "", map[string]string{"CARGO": "true"})
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "clean", "install", "release", "uninstall"}, tasks.SortedNames())
	assert.Equal(t, "calculator_cli", options["BINARY"].Default)
	assert.Equal(t, "/usr/local", options["PREFIX"].Default)
	assert.Equal(t, "", options["DESTDIR"].Default)
	assert.Equal(t, []string{"release"}, tasks["install"].Deps)

	_, err = os.Stat(filepath.Join(root, TaskFileName+".cache"))
	assert.ErrorIs(t, err, os.ErrNotExist, "the built-in tasks are not cached")
}

func TestInstallPlacesBinary(t *testing.T) {
	for _, tc := range []struct {
		name   string
		values map[string]string
		target string
	}{
		{
			name:   "custom prefix",
			values: map[string]string{"BINARY": "calc", "PREFIX": "/opt"},
			target: "opt/bin/calc",
		},
		{
			name:   "defaults",
			values: map[string]string{},
			target: "usr/local/bin/calculator_cli",
		},
		{
			name:   "prefix with spaces",
			values: map[string]string{"BINARY": "my calc", "PREFIX": "/my prefix"},
			target: "my prefix/bin/my calc",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			stage := t.TempDir()

			values := map[string]string{"CARGO": "true", "DESTDIR": stage}
			for k, v := range tc.values {
				values[k] = v
			}

			binary := values["BINARY"]
			if binary == "" {
				binary = "calculator_cli"
			}
			fakeRelease(t, root, binary)

			tasks, _, err := LoadTasks(context.Background(), root, "", values)
			require.NoError(t, err)
			require.NoError(t, RunTask(context.Background(), root, "install", tasks, quiet))

			info, err := os.Stat(filepath.Join(stage, filepath.FromSlash(tc.target)))
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
		})
	}
}

func TestInstallFailsWhenReleaseFails(t *testing.T) {
	root := t.TempDir()
	stage := t.TempDir()
	fakeRelease(t, root, "calc")

	tasks, _, err := LoadTasks(context.Background(), root, "", map[string]string{
		"CARGO":   "false",
		"BINARY":  "calc",
		"DESTDIR": stage,
	})
	require.NoError(t, err)

	err = RunTask(context.Background(), root, "install", tasks, quiet)
	require.Error(t, err)
	assert.Equal(t, 1, pkg.ExitCode(err))
	assert.Contains(t, err.Error(), "dependency release")

	_, err = os.Stat(filepath.Join(stage, "usr", "local", "bin", "calc"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUninstallIsIdempotent(t *testing.T) {
	root := t.TempDir()
	stage := t.TempDir()
	fakeRelease(t, root, "calc")

	values := map[string]string{"CARGO": "true", "BINARY": "calc", "PREFIX": "/opt", "DESTDIR": stage}
	tasks, _, err := LoadTasks(context.Background(), root, "", values)
	require.NoError(t, err)

	require.NoError(t, RunTask(context.Background(), root, "install", tasks, quiet))
	installed := filepath.Join(stage, "opt", "bin", "calc")
	require.FileExists(t, installed)

	require.NoError(t, RunTask(context.Background(), root, "uninstall", tasks, quiet))
	assert.NoFileExists(t, installed)

	require.NoError(t, RunTask(context.Background(), root, "uninstall", tasks, quiet))
}

func TestOptionPrecedence(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
NAME = option("NAME", "default")

def configure():
    task(short = "show", cmds = ["echo " + NAME + " > name.txt"])
`)

	run := func(values map[string]string) string {
		tasks, _, err := LoadTasks(context.Background(), root, "", values)
		require.NoError(t, err)
		require.NoError(t, RunTask(context.Background(), root, "show", tasks, quiet))

		content, err := os.ReadFile(filepath.Join(root, "name.txt"))
		require.NoError(t, err)
		return strings.TrimSpace(string(content))
	}

	assert.Equal(t, "default", run(nil))

	t.Setenv("NAME", "fromenv")
	assert.Equal(t, "fromenv", run(nil))
	assert.Equal(t, "fromcli", run(map[string]string{"NAME": "fromcli"}))
}

func TestTasksRunOnce(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
def configure():
    task(short = "a", cmds = ["echo a >> log.txt"])
    task(short = "b", deps = ["a"], cmds = ["echo b >> log.txt"])
    task(short = "c", deps = ["a", "b"], cmds = ["echo c >> log.txt"])
`)

	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)
	require.NoError(t, RunTasks(context.Background(), root, []string{"c", "b", "a"}, tasks, quiet))

	content, err := os.ReadFile(filepath.Join(root, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(content))
}

func TestTaskCycle(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
def configure():
    task(short = "a", deps = ["b"])
    task(short = "b", deps = ["a"])
`)

	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)

	err = RunTask(context.Background(), root, "a", tasks, quiet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "called recursively")
}

func TestUnknownTask(t *testing.T) {
	root := t.TempDir()
	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)

	err = RunTask(context.Background(), root, "deploy", tasks, quiet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task deploy not found")
}

func TestCleanThenBuild(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
def configure():
    task(short = "build", cmds = [("mkdir", "-p", "target/debug"), "echo bin > target/debug/app"])
    task(short = "clean", cmds = [("rm", "-rf", "target")])
`)

	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)

	require.NoError(t, RunTasks(context.Background(), root, []string{"build", "clean"}, tasks, quiet))
	assert.NoDirExists(t, filepath.Join(root, "target"))

	require.NoError(t, RunTask(context.Background(), root, "build", tasks, quiet))
	assert.FileExists(t, filepath.Join(root, "target", "debug", "app"))
}

func TestDryRun(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
def configure():
    task(short = "build", cmds = [("mkdir", "out")])
`)

	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)
	require.NoError(t, RunTask(context.Background(), root, "build", tasks, RunOptions{DryRun: true, Stdout: io.Discard, Stderr: io.Discard}))
	assert.NoDirExists(t, filepath.Join(root, "out"))
}

func TestExitStatusPropagates(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
def configure():
    task(short = "fail", cmds = ["exit 3"])
`)

	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)

	err = RunTask(context.Background(), root, "fail", tasks, quiet)
	require.Error(t, err)
	assert.Equal(t, 3, pkg.ExitCode(err))
}

func TestUpToDateCheck(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
def configure():
    task(
        short = "gen",
        inputs = ["in.txt"],
        outputs = ["out.txt"],
        cmds = ["echo run >> log.txt", "echo out > out.txt"],
    )
`)
	require.NoError(t, os.WriteFile(filepath.Join(root, "in.txt"), []byte("x"), 0o644))

	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)

	require.NoError(t, RunTask(context.Background(), root, "gen", tasks, quiet))
	require.NoError(t, RunTask(context.Background(), root, "gen", tasks, quiet))

	content, err := os.ReadFile(filepath.Join(root, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "run\n", string(content))

	require.NoError(t, RunTask(context.Background(), root, "gen", tasks, RunOptions{Force: true, Stdout: io.Discard, Stderr: io.Discard}))
	content, err = os.ReadFile(filepath.Join(root, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "run\nrun\n", string(content))
}

func TestSkipIfExists(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
def configure():
    task(short = "setup", skip_if_exists = ["marker"], cmds = ["echo ran > ran.txt"])
`)
	require.NoError(t, os.WriteFile(filepath.Join(root, "marker"), nil, 0o644))

	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)
	require.NoError(t, RunTask(context.Background(), root, "setup", tasks, quiet))
	assert.NoFileExists(t, filepath.Join(root, "ran.txt"))
}

func TestTaskCache(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
NAME = option("NAME", "one")

def configure():
    task(short = NAME)
`)

	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)
	assert.Contains(t, tasks, "one")
	require.FileExists(t, filepath.Join(root, TaskFileName+".cache"))

	tasks, _, err = LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)
	assert.Contains(t, tasks, "one")

	tasks, _, err = LoadTasks(context.Background(), root, "", map[string]string{"NAME": "two"})
	require.NoError(t, err)
	assert.Contains(t, tasks, "two")
	assert.NotContains(t, tasks, "one")
}

func TestTaskCacheSkippedForVolatileBuiltins(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
def configure():
    if isfile("Cargo.lock"):
        task(short = "locked")
    task(short = getenv("CALC_TASK_NAME", "plain"))
`)
	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"plain"}, tasks.SortedNames())
	assert.NoFileExists(t, filepath.Join(root, TaskFileName+".cache"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.lock"), nil, 0o644))
	t.Setenv("CALC_TASK_NAME", "custom")

	tasks, _, err = LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"custom", "locked"}, tasks.SortedNames())
	assert.NoFileExists(t, filepath.Join(root, TaskFileName+".cache"))
}

func TestStarlarkBuiltins(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "meta.yaml"), []byte("package:\n  name: calc\n  tags: [a, b]\n"), 0o644))
	writeTaskFile(t, root, `
name = read_yaml("meta.yaml", "package.name")
tags = read_yaml("meta.yaml", "package.tags")
out = execute("echo hello").strip()
setenv("GREETING", out)

def configure():
    if not isfile("meta.yaml") or isdir("meta.yaml"):
        error("file checks failed")

    task(
        short = "show",
        env = {"EXTRA": name},
        cmds = ["echo $GREETING $EXTRA %d > result.txt" % len(tags)],
    )
`)

	tasks, _, err := LoadTasks(context.Background(), root, "", nil)
	require.NoError(t, err)
	require.NoError(t, RunTask(context.Background(), root, "show", tasks, quiet))

	content, err := os.ReadFile(filepath.Join(root, "result.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello calc 2\n", string(content))
}

func TestProcessCmdParts(t *testing.T) {
	str := func(values ...string) starlark.Tuple {
		parts := make(starlark.Tuple, len(values))
		for i, value := range values {
			parts[i] = starlark.String(value)
		}
		return parts
	}

	for name, tc := range map[string]struct {
		parts    starlark.Tuple
		expected string
	}{
		"plain":            {str("cargo", "build", "--release"), "cargo build --release"},
		"assignments":      {str("RUSTFLAGS=-C opt-level=3", "CC=", "cargo", "build"), "RUSTFLAGS='-C opt-level=3' CC='' cargo build"},
		"command with =":   {str("/opt/x=y/cargo", "build"), "'/opt/x=y/cargo' build"},
		"invalid name":     {str("1A=b", "run"), "'1A=b' run"},
		"flag with =":      {str("--target=x", "run"), "'--target=x' run"},
		"argument after =": {str("A=1", "echo", "B=2"), "A=1 echo 'B=2'"},
	} {
		t.Run(name, func(t *testing.T) {
			cmd, err := processCmdParts(tc.parts, "/base")
			require.NoError(t, err)

			var out strings.Builder
			require.NoError(t, syntax.NewPrinter(syntax.Minify(true)).Print(&out, cmd))
			assert.Equal(t, tc.expected, out.String())
		})
	}

	_, err := processCmdParts(str("A=1", "B=2"), "/base")
	assert.Error(t, err, "assignments alone are not a command")
}

func TestCommandNameContainingEquals(t *testing.T) {
	root := t.TempDir()
	writeTaskFile(t, root, `
CARGO = option("CARGO", "cargo")

def configure():
    task(short = "build", cmds = [(CARGO, "build")])
`)

	tasks, _, err := LoadTasks(context.Background(), root, "", map[string]string{"CARGO": "/opt/x=y/cargo"})
	require.NoError(t, err)
	require.Len(t, tasks["build"].Cmds, 1)
	assert.Equal(t, "'/opt/x=y/cargo' build", tasks["build"].Cmds[0].(TaskCmdScript).Content)
}

func TestScriptErrors(t *testing.T) {
	for name, script := range map[string]string{
		"reserved name":  "def configure():\n    task(short = \"configure\")\n",
		"no configure":   "X = 1\n",
		"error builtin":  "def configure():\n    error(\"boom\")\n",
		"option in task": "def configure():\n    option(\"LATE\")\n",
		"duplicate task": "def configure():\n    task(short = \"a\")\n    task(short = \"a\")\n",
	} {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			writeTaskFile(t, root, script)

			_, _, err := LoadTasks(context.Background(), root, "", nil)
			assert.Error(t, err)
		})
	}
}
