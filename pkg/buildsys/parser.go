package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
	"mvdan.cc/sh/v3/syntax"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
)

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	lookupEnv    func(string) (string, bool)
	filepath     string
	projectRoot  string
	tasks        []*Task
	initPhase    bool
	// volatile lists the builtins called whose results depend on more than the script and its
	// options.
	volatile map[string]bool
}

func (ctx *parserCtx) markVolatile(name string) {
	ctx.volatile[name] = true
}

var fileOptions = &starsyntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// * Helpers

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input starlarkIterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		case StarlarkPath:
			result = append(result, string(value))
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

// processCmdParts turns a tuple like ("VAR=1", "install", "-Dm755", path) into a quoted call
// expression. Leading parts are only assignments if they start with a valid variable name.
func processCmdParts(parts starlark.Tuple, base string) (*syntax.CallExpr, error) {
	cmd := new(syntax.CallExpr)
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok {
			break
		}

		name, assigned, found := strings.Cut(value.GoString(), "=")
		if !found || !syntax.ValidName(name) {
			break
		}

		word, err := quotedWord(assigned)
		if err != nil {
			return nil, err
		}
		cmd.Assigns = append(cmd.Assigns, &syntax.Assign{
			Name:  &syntax.Lit{Value: name},
			Value: word,
		})
	}

	args := parts[len(cmd.Assigns):]
	if len(args) == 0 {
		return nil, eris.New("command has no arguments")
	}

	cmd.Args = make([]*syntax.Word, len(args))
	for a, arg := range args {
		var encodedValue string

		switch value := arg.(type) {
		case starlark.String:
			encodedValue = value.GoString()
		case StarlarkPath:
			encodedValue = string(value)

			if filepath.IsAbs(encodedValue) {
				// absolute paths cause issues on Windows
				relValue, err := filepath.Rel(base, encodedValue)
				if err == nil {
					encodedValue = relValue
				}
			}

			encodedValue = filepath.ToSlash(encodedValue)
		default:
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}

		word, err := quotedWord(encodedValue)
		if err != nil {
			return nil, err
		}
		cmd.Args[a] = word
	}

	return cmd, nil
}

func quotedWord(value string) (*syntax.Word, error) {
	quoted, err := syntax.Quote(value, syntax.LangBash)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to quote argument %q", value)
	}

	return &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: quoted}}}, nil
}

func logPos(thread *starlark.Thread) string {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	return fmt.Sprintf("%s:%d:%d", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col)
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	pkg.Log(getCtx(thread).ctx).Info().
		Msgf("%s: %s", logPos(thread), fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	pkg.Log(getCtx(thread).ctx).Warn().
		Msgf("%s: %s", logPos(thread), fmt.Sprintf(msg, args...))
}

// * Builtin functions

// option declares a variable that can be set as NAME=value on the command line or through the
// environment, in that order of precedence.
func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue string
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		Default: defaultValue,
		Help:    help,
	}

	return starlark.String(resolveOption(ctx.optionValues, ctx.lookupEnv, name, defaultValue)), nil
}

func resolveOption(values map[string]string, lookupEnv func(string) (string, bool), name, defaultValue string) string {
	if value, ok := values[name]; ok {
		return value
	}

	if value, ok := lookupEnv(name); ok {
		return value
	}

	return defaultValue
}

func toStringMap(dict *starlark.Dict, field string) (map[string]string, error) {
	result := map[string]string{}
	if dict == nil {
		return result, nil
	}

	for _, rawKey := range dict.Keys() {
		key, ok := rawKey.(starlark.String)
		if !ok {
			return nil, eris.Errorf("found key type %s in %s but only strings are supported", rawKey.Type(), field)
		}

		rawValue, _, err := dict.Get(rawKey)
		if err != nil {
			return nil, err
		}

		switch value := rawValue.(type) {
		case starlark.String:
			result[key.GoString()] = value.GoString()
		case StarlarkPath:
			result[key.GoString()] = string(value)
		default:
			return nil, eris.Errorf("found value of type %s for key %s but only strings are supported", rawValue.Type(), key.GoString())
		}
	}

	return result, nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps *starlark.List
	var skipIfExists *starlark.List
	var inputs *starlark.List
	var outputs *starlark.List
	var env *starlark.Dict
	var cmds *starlark.List

	task := new(Task)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short??", &task.Short, "hidden?", &task.Hidden,
		"desc?", &task.Desc, "deps?", &deps, "base?", &task.Base, "skip_if_exists?", &skipIfExists, "inputs?",
		&inputs, "outputs?", &outputs, "env?", &env, "cmds?", &cmds)
	if err != nil {
		return nil, err
	}

	named := task.Short != ""
	if !named {
		task.Hidden = true
		task.Short = "auto#" + nanoid.New()
	}

	if task.Short == "configure" {
		return nil, eris.New(`the task name "configure" is reserved, please use a different name`)
	}

	if task.Base == "" {
		task.Base = "."
	}
	task.Base = normalizePath(getCtx(thread), task.Base)

	task.Env, err = toStringMap(env, "env")
	if err != nil {
		return nil, err
	}

	task.Deps, err = starlarkIterable2stringSlice(deps, "deps")
	if err != nil {
		return nil, err
	}

	task.SkipIfExists, err = starlarkIterable2stringSlice(skipIfExists, "skip_if_exists")
	if err != nil {
		return nil, err
	}

	task.Inputs, err = starlarkIterable2stringSlice(inputs, "inputs")
	if err != nil {
		return nil, err
	}

	task.Outputs, err = starlarkIterable2stringSlice(outputs, "outputs")
	if err != nil {
		return nil, err
	}

	strBuffer := strings.Builder{}
	printer := syntax.NewPrinter(syntax.Minify(true))
	task.Cmds = make([]TaskCmd, 0)

	if cmds != nil {
		iter := cmds.Iterate()
		defer iter.Done()

		var item starlark.Value
		idx := 0
		for iter.Next(&item) {
			var parts starlark.Tuple

			switch value := item.(type) {
			case starlark.String:
				task.Cmds = append(task.Cmds, TaskCmdScript{TaskName: task.Short, Index: idx, Content: value.GoString()})
			case starlark.Tuple:
				parts = value
			case *starlark.List:
				parts = make(starlark.Tuple, 0, value.Len())
				for i := 0; i < value.Len(); i++ {
					parts = append(parts, value.Index(i))
				}
			case *Task:
				task.Cmds = append(task.Cmds, TaskCmdTaskRef{Task: value})
			default:
				return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples, lists and tasks are valid", fn.Name(), item.Type())
			}

			if parts != nil {
				cmd, err := processCmdParts(parts, task.Base)
				if err != nil {
					return nil, eris.Wrapf(err, "failed to process command #%d", idx)
				}

				strBuffer.Reset()
				err = printer.Print(&strBuffer, cmd)
				if err != nil {
					return nil, eris.Wrapf(err, "failed to process command #%d", idx)
				}

				task.Cmds = append(task.Cmds, TaskCmdScript{TaskName: task.Short, Index: idx, Content: strBuffer.String()})
			}

			idx++
		}
	}

	if len(task.Inputs) > 0 && len(task.Outputs) == 0 {
		warn(thread, "%s: found inputs but no outputs", fn.Name())
	}

	if named {
		ctx := getCtx(thread)
		ctx.tasks = append(ctx.tasks, task)
	}
	return task, nil
}

// RunScript executes a task file and returns the declared options. If doConfigure is true, the
// script's configure function is called and the declared tasks are collected and returned.
func RunScript(ctx context.Context, filename string, script []byte, projectRoot string, options map[string]string, doConfigure bool) (TaskList, map[string]ScriptOption, error) {
	result, err := runScript(ctx, filename, script, projectRoot, options, doConfigure)
	if err != nil {
		return nil, nil, err
	}

	return result.tasks, result.options, nil
}

type scriptResult struct {
	tasks   TaskList
	options map[string]ScriptOption
	// volatile names the builtins that make the result unsafe to cache.
	volatile []string
}

func runScript(ctx context.Context, filename string, script []byte, projectRoot string, options map[string]string, doConfigure bool) (*scriptResult, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"execute":      starlark.NewBuiltin("execute", starExec),
		"task":         starlark.NewBuiltin("task", task),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			pkg.Log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}

	if options == nil {
		options = map[string]string{}
	}

	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		lookupEnv:    os.LookupEnv,
		tasks:        make([]*Task, 0),
		yamlCache:    make(map[string]interface{}),
		initPhase:    true,
		volatile:     make(map[string]bool),
	}
	thread.SetLocal("parserCtx", &threadCtx)

	displayName := simplifyPath(&threadCtx, filename)
	globals, err := starlark.ExecFileOptions(fileOptions, thread, displayName, script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", displayName, evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", displayName)
	}

	for name := range options {
		if _, declared := threadCtx.options[name]; !declared {
			pkg.Log(ctx).Warn().Msgf("%s does not declare the option %s", displayName, name)
		}
	}

	tasks := TaskList{}
	if doConfigure {
		configure, ok := globals["configure"]
		if !ok {
			return nil, eris.Errorf("%s did not declare a configure function", displayName)
		}

		configureFunc, ok := configure.(starlark.Callable)
		if !ok {
			return nil, eris.Errorf("%s did declare a configure value but it's not a function", displayName)
		}

		threadCtx.initPhase = false
		_, err = starlark.Call(thread, configureFunc, nil, nil)
		if err != nil {
			if evalError, ok := err.(*starlark.EvalError); ok {
				return nil, eris.New(evalError.Backtrace())
			}
			return nil, eris.Wrapf(err, "failed configure call in %s", displayName)
		}

		for _, task := range threadCtx.tasks {
			if _, dup := tasks[task.Short]; dup {
				return nil, eris.Errorf("%s declares the task %s more than once", displayName, task.Short)
			}
			tasks[task.Short] = task

			for name, value := range threadCtx.envOverrides {
				if _, present := task.Env[name]; !present {
					task.Env[name] = value
				}
			}
		}
	}

	volatile := make([]string, 0, len(threadCtx.volatile))
	for name := range threadCtx.volatile {
		volatile = append(volatile, name)
	}
	sort.Strings(volatile)

	return &scriptResult{tasks: tasks, options: threadCtx.options, volatile: volatile}, nil
}

// SortedNames returns the visible task names in alphabetical order.
func (l TaskList) SortedNames() []string {
	names := make([]string, 0, len(l))
	for name, task := range l {
		if !task.Hidden {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}
