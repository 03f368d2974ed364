// Package cmd implements the task command on top of the buildsys package
package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/buildsys"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/config"
)

var RootCmd = &cobra.Command{
	Use:   "task [NAME=value...] [task...]",
	Short: "Runs build targets like build, release, install, uninstall and clean",
	Long: `This command reads tasks.star from the project root (or uses the built-in cargo targets if
there is none) and executes the given tasks. Arguments of the form NAME=value set options like
BINARY, PREFIX or DESTDIR.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		taskArgs, options := splitArgs(args)

		ctx := cmd.Context()
		cfg := config.FromContext(ctx)
		root, err := ProjectRoot(cfg)
		if err != nil {
			return err
		}

		taskList, scriptOptions, err := buildsys.LoadTasks(ctx, root, cfg.Project.Tasks, options)
		if err != nil {
			return err
		}

		if len(taskArgs) == 0 {
			printTaskList(cmd.OutOrStdout(), taskList, scriptOptions, options)
			return nil
		}

		return buildsys.RunTasks(ctx, root, taskArgs, taskList, buildsys.RunOptions{
			DryRun: dryRun,
			Force:  force,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		})
	},
}

func init() {
	RootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	RootCmd.Flags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
}

// splitArgs separates NAME=value options from task names.
func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > 0 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

// ProjectRoot returns the configured project root or the nearest directory with Cargo.toml or
// .git. Outside of a project, the working directory is used.
func ProjectRoot(cfg *config.Config) (string, error) {
	if cfg.Project.Root != "" {
		return cfg.Project.Root, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	root, err := pkg.GetProjectRoot(wd)
	if err != nil {
		return wd, nil
	}

	return root, nil
}

func printTaskList(out io.Writer, taskList buildsys.TaskList, options map[string]buildsys.ScriptOption, values map[string]string) {
	fmt.Fprintln(out, "Available tasks:")

	sortedNames := taskList.SortedNames()
	maxNameLen := 0
	for _, name := range sortedNames {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range sortedNames {
		fmt.Fprintf(out, lineFmt, name+":", taskList[name].Desc)
	}

	if len(options) == 0 {
		return
	}

	fmt.Fprintln(out, "\nOptions:")
	resolved := buildsys.ResolveOptions(options, values)
	optionNames := make([]string, 0, len(options))
	for name := range options {
		optionNames = append(optionNames, name)
	}
	sort.Strings(optionNames)

	for _, name := range optionNames {
		fmt.Fprintf(out, " * %s=%q  %s\n", name, resolved[name], options[name].Help)
	}
}
