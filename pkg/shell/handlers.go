// Package shell configures the embedded POSIX shell used to run task and recipe commands.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"mvdan.cc/sh/v3/interp"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/posix"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/vcs"
)

type builtinFunc func(ctx context.Context, hc interp.HandlerContext, args []string) error

// builtins always replace the external tools of the same name so that recipes behave
// consistently across platforms.
var builtins = map[string]builtinFunc{
	"install": runInstall,
	"rm":      runRemove,
	"mkdir":   runMkdir,
	"mv":      runMove,
}

// Options returns the runner options shared by every interpreter the tools create.
func Options(dir string, stdout, stderr io.Writer) []interp.RunnerOption {
	return []interp.RunnerOption{
		interp.Dir(dir),
		interp.ExecHandlers(Middleware),
		interp.OpenHandler(OpenHandler),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	}
}

// Middleware serves the portable builtins and the git queries used for versioning in-process and
// passes everything else to the next handler.
func Middleware(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 {
			return next(ctx, args)
		}

		hc := interp.HandlerCtx(ctx)
		if fn, ok := builtins[args[0]]; ok {
			pkg.Log(ctx).Debug().Strs("args", args).Msg("builtin")
			return report(hc, args[0], fn(ctx, hc, args[1:]))
		}

		if args[0] == "git" {
			handled, err := runGit(hc, args[1:])
			if handled {
				return report(hc, "git", err)
			}
		}

		return next(ctx, args)
	}
}

// report prints err the way a coreutils tool would and turns it into exit status 1.
func report(hc interp.HandlerContext, name string, err error) error {
	if err == nil {
		return nil
	}

	fmt.Fprintf(hc.Stderr, "%s: %s\n", name, eris.ToString(err, false))
	return interp.NewExitStatus(1)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

// OpenHandler maps /dev/null to the platform's null device.
func OpenHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// ReadDir lists path for glob expansion.
func ReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func resolve(hc interp.HandlerContext, paths []string) []string {
	result := make([]string, len(paths))
	for idx, path := range paths {
		path = filepath.FromSlash(path)
		if runtime.GOOS == "windows" && strings.HasPrefix(path, `\`) && !strings.HasPrefix(path, `\\`) {
			// keep POSIX-style absolute paths on the current drive
			path = filepath.VolumeName(hc.Dir) + path
		}

		if !filepath.IsAbs(path) {
			path = filepath.Join(hc.Dir, path)
		}
		result[idx] = path
	}
	return result
}

func newFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetInterspersed(true)
	flags.Usage = func() {}
	flags.SetOutput(io.Discard)
	return flags
}

func runInstall(ctx context.Context, hc interp.HandlerContext, args []string) error {
	flags := newFlagSet("install")
	createLeading := flags.BoolP("leading", "D", false, "create all leading components of the destination")
	directories := flags.BoolP("directory", "d", false, "treat all arguments as directory names")
	modeStr := flags.StringP("mode", "m", "755", "permission mode")
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "invalid arguments")
	}

	mode, err := posix.ParseMode(*modeStr)
	if err != nil {
		return err
	}

	paths := resolve(hc, flags.Args())
	if len(paths) == 0 {
		return eris.New("missing file operand")
	}

	if !*directories && len(paths) < 2 {
		return eris.Errorf("missing destination file operand after %s", paths[0])
	}

	return posix.Install(paths[:len(paths)-1], paths[len(paths)-1], posix.InstallOptions{
		Mode:          mode,
		CreateLeading: *createLeading,
		Directories:   *directories,
	})
}

func runRemove(ctx context.Context, hc interp.HandlerContext, args []string) error {
	flags := newFlagSet("rm")
	recursive := flags.BoolP("recursive", "r", false, "remove directories and their contents recursively")
	flags.BoolVarP(recursive, "Recursive", "R", false, "same as -r")
	force := flags.BoolP("force", "f", false, "ignore nonexistent files")
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "invalid arguments")
	}

	paths := resolve(hc, flags.Args())
	if len(paths) == 0 {
		if *force {
			return nil
		}
		return eris.New("missing operand")
	}

	return posix.Remove(paths, *recursive, *force)
}

func runMkdir(ctx context.Context, hc interp.HandlerContext, args []string) error {
	flags := newFlagSet("mkdir")
	parents := flags.BoolP("parents", "p", false, "make parent directories as needed")
	modeStr := flags.StringP("mode", "m", "", "permission mode")
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "invalid arguments")
	}

	var mode os.FileMode
	if *modeStr != "" {
		var err error
		mode, err = posix.ParseMode(*modeStr)
		if err != nil {
			return err
		}
	}

	paths := resolve(hc, flags.Args())
	if len(paths) == 0 {
		return eris.New("missing operand")
	}

	return posix.Mkdir(paths, *parents, mode)
}

func runMove(ctx context.Context, hc interp.HandlerContext, args []string) error {
	flags := newFlagSet("mv")
	flags.BoolP("force", "f", false, "do not prompt before overwriting")
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "invalid arguments")
	}

	paths := resolve(hc, flags.Args())
	if len(paths) < 2 {
		return eris.New("Not enough parameters")
	}

	return posix.Move(paths[:len(paths)-1], paths[len(paths)-1])
}

// runGit answers `git rev-list --count <rev>` and `git rev-parse --short <rev>`. Any other git
// invocation is left to the real git binary.
func runGit(hc interp.HandlerContext, args []string) (bool, error) {
	if len(args) != 3 {
		return false, nil
	}

	var query func(*vcs.Repository, string) (string, error)
	switch {
	case args[0] == "rev-list" && args[1] == "--count":
		query = func(repo *vcs.Repository, rev string) (string, error) {
			count, err := repo.CountCommits(rev)
			return fmt.Sprint(count), err
		}
	case args[0] == "rev-parse" && args[1] == "--short":
		query = func(repo *vcs.Repository, rev string) (string, error) {
			hash, err := repo.Resolve(rev)
			if err != nil {
				return "", err
			}
			return vcs.Revision{Hash: hash}.ShortHash(), nil
		}
	default:
		return false, nil
	}

	repo, err := vcs.Open(hc.Dir)
	if err != nil {
		return true, err
	}

	out, err := query(repo, args[2])
	if err != nil {
		return true, err
	}

	_, err = fmt.Fprintln(hc.Stdout, out)
	return true, err
}
