package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/shell"
)

// RunOptions controls how tasks are executed.
type RunOptions struct {
	// DryRun only logs the commands.
	DryRun bool
	// Force ignores skip_if_exists and the input/output timestamps.
	Force  bool
	Stdout io.Writer
	Stderr io.Writer
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		runTasks    map[string]bool
		projectRoot string
		opts        RunOptions
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func getTaskEnv(task *Task) expand.Environ {
	envVars := os.Environ()

	names := make([]string, 0, len(task.Env))
	for name := range task.Env {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, task.Env[name]))
	}

	return expand.ListEnviron(envVars...)
}

func resolvePatternLists(ctx context.Context, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shell.ReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	parserCtx := &parserCtx{
		filepath:    "invalid",
		projectRoot: getRuntimeCtx(ctx).projectRoot,
	}

	for _, item := range patterns {
		item = normalizePath(parserCtx, base, item)
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// a pattern without matches is returned as is
			if !strings.Contains(match, "*") {
				result = append(result, match)
			}
		}
	}
	return result, nil
}

// RunTasks executes the named tasks in order. Every task (including dependencies) runs at most once.
func RunTasks(ctx context.Context, projectRoot string, names []string, tasks TaskList, opts RunOptions) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	rctx := runtimeCtx{
		projectRoot: projectRoot,
		runTasks:    make(map[string]bool),
		opts:        opts,
	}
	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)

	for _, name := range names {
		taskMeta, found := tasks[name]
		if !found {
			return eris.Errorf("task %s not found", name)
		}

		err := runTaskInternal(ctx, taskMeta, tasks, opts.Force, true)
		if err != nil {
			return err
		}
	}

	return nil
}

// RunTask executes a single task and its dependencies.
func RunTask(ctx context.Context, projectRoot, task string, tasks TaskList, opts RunOptions) error {
	return RunTasks(ctx, projectRoot, []string{task}, tasks, opts)
}

func runTaskInternal(ctx context.Context, task *Task, tasks TaskList, force, canSkip bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	status, ok := rctx.runTasks[task.Short]
	if ok {
		if status {
			pkg.Log(ctx).Debug().Msgf("task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("task %s was called recursively", task.Short)
	}

	rctx.runTasks[task.Short] = false

	for _, dep := range task.Deps {
		if !rctx.runTasks[dep] {
			depTask, ok := tasks[dep]
			if !ok {
				return eris.Errorf("task %s not found", dep)
			}

			err := runTaskInternal(ctx, depTask, tasks, false, true)
			if err != nil {
				return eris.Wrapf(err, "task %s failed due to its dependency %s", task.Short, dep)
			}
		}
	}

	if canSkip && !force {
		skip, err := checkSkipFiles(ctx, task)
		if err != nil {
			return err
		}

		if !skip {
			skip, err = checkUpToDate(ctx, task)
			if err != nil {
				return err
			}
		}

		if skip {
			rctx.runTasks[task.Short] = true
			return nil
		}
	}

	pkg.PrintTask(task.Short)

	// With the skip and input/output checks done, we can finally start executing
	opts := append(shell.Options(task.Base, rctx.opts.Stdout, rctx.opts.Stderr), interp.Env(getTaskEnv(task)))
	runner, err := interp.New(opts...)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, item := range task.Cmds {
		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		}

		if stmts != nil {
			for _, stm := range stmts {
				strBuffer.Reset()
				err = printer.Print(&strBuffer, stm)
				if err != nil {
					return eris.Wrap(err, "failed to print command")
				}

				pkg.Log(ctx).Info().
					Str("task", task.Short).
					Bool("command", true).
					Msg(strBuffer.String())

				if !rctx.opts.DryRun {
					err = runner.Run(ctx, stm)
					if err != nil {
						return eris.Wrapf(err, "task %s failed", task.Short)
					}

					if runner.Exited() {
						rctx.runTasks[task.Short] = true
						return nil
					}
				}
			}
			continue
		}

		subTask, err := item.ToTask()
		if err != nil {
			return eris.Wrap(err, "failed to retrieve task ref")
		}

		if subTask == nil {
			return eris.Errorf("unexpected task command %+v", item)
		}

		err = runTaskInternal(ctx, subTask, tasks, force, true)
		if err != nil {
			return err
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	rctx.runTasks[task.Short] = true
	return nil
}

// checkSkipFiles reports whether every skip_if_exists entry is present.
func checkSkipFiles(ctx context.Context, task *Task) (bool, error) {
	skipList, err := resolvePatternLists(ctx, task.Base, task.SkipIfExists)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve skip_if_exists list")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "failed to check %s", item)
		}
	}

	if found > 0 && found == len(skipList) {
		pkg.Log(ctx).Info().
			Str("task", task.Short).
			Msg("skipped because all skip files exist")
		return true, nil
	}

	return false, nil
}

// checkUpToDate reports whether all outputs exist and are newer than the newest input.
func checkUpToDate(ctx context.Context, task *Task) (bool, error) {
	if len(task.Inputs) == 0 || len(task.Outputs) == 0 {
		return false, nil
	}

	inputList, err := resolvePatternLists(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatternLists(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	var newestInput time.Time
	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() || len(outputList) == 0 {
		return false, nil
	}

	var oldestOutput time.Time
	for _, item := range outputList {
		info, err := os.Stat(item)
		if eris.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, eris.Wrapf(err, "failed to check output %s", item)
		}

		if oldestOutput.IsZero() || info.ModTime().Before(oldestOutput) {
			oldestOutput = info.ModTime()
		}
	}

	if oldestOutput.After(newestInput) {
		pkg.Log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %.1f seconds newer)", oldestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}
