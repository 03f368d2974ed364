package buildsys

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
)

// TaskFileName is the task file looked up in the project root.
const TaskFileName = "tasks.star"

//go:embed default_tasks.star
var defaultTasks []byte

// DefaultTasks returns the task file used for projects without their own.
func DefaultTasks() []byte {
	return defaultTasks
}

// LoadTasks reads the task file (or the built-in default if it doesn't exist), runs its configure
// function and returns the resulting tasks and declared options. Results for real task files are
// cached next to them unless the file queried the environment, the file system or other commands.
func LoadTasks(ctx context.Context, projectRoot, taskFile string, values map[string]string) (TaskList, map[string]ScriptOption, error) {
	if taskFile == "" {
		taskFile = TaskFileName
	}
	if !filepath.IsAbs(taskFile) {
		taskFile = filepath.Join(projectRoot, taskFile)
	}

	script, err := os.ReadFile(taskFile)
	if eris.Is(err, os.ErrNotExist) {
		pkg.Log(ctx).Debug().Msgf("%s not found, using the built-in tasks", taskFile)
		return RunScript(ctx, taskFile, defaultTasks, projectRoot, values, true)
	}
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to read %s", taskFile)
	}

	digest := sha256.Sum256(script)
	cacheFile := taskFile + ".cache"
	entry, err := readCache(cacheFile)
	if err == nil && entry.matches(digest, values, os.LookupEnv) {
		pkg.Log(ctx).Debug().Msgf("using cached tasks from %s", cacheFile)
		return entry.Tasks, entry.Options, nil
	}

	result, err := runScript(ctx, taskFile, script, projectRoot, values, true)
	if err != nil {
		return nil, nil, err
	}

	if len(result.volatile) > 0 {
		// the environment or the file system can change what these builtins return
		pkg.Log(ctx).Debug().Strs("builtins", result.volatile).Msgf("not caching %s", taskFile)
		err = os.Remove(cacheFile)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			pkg.Log(ctx).Warn().Err(err).Msg("failed to remove stale task cache")
		}
		return result.tasks, result.options, nil
	}

	entry = &cacheEntry{
		Digest:  digest,
		Values:  ResolveOptions(result.options, values),
		Options: result.options,
		Tasks:   result.tasks,
	}
	err = writeCache(cacheFile, entry)
	if err != nil {
		pkg.Log(ctx).Warn().Err(err).Msg("failed to write task cache")
	}

	return result.tasks, result.options, nil
}

// ResolveOptions returns the effective value of every declared option.
func ResolveOptions(options map[string]ScriptOption, values map[string]string) map[string]string {
	result := make(map[string]string, len(options))
	for name, opt := range options {
		result[name] = resolveOption(values, os.LookupEnv, name, opt.Default)
	}

	return result
}
