package cmd

import (
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/webstriiix/calculator-cli/build-tools/pkg/posix"
)

// expandArgs resolves glob patterns on Windows where the shell doesn't.
func expandArgs(args []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := []string{}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if allowEmpty {
				continue
			}
			return nil, eris.Errorf("pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

var mvCmd = &cobra.Command{
	Use:   "mv SOURCE... DEST",
	Short: "Cross-platform implementation of the POSIX mv command",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := expandArgs(args[:len(args)-1], false)
		if err != nil {
			return err
		}

		return posix.Move(items, args[len(args)-1])
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm PATH...",
	Short: "A cross-platform implementation of the POSIX rm command",
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		items, err := expandArgs(args, force)
		if err != nil {
			return err
		}

		return posix.Remove(items, recursive, force)
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir DIR...",
	Short: "A cross-platform implementation of the POSIX mkdir command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		makeParents, err := cmd.Flags().GetBool("parents")
		if err != nil {
			return err
		}

		modeStr, err := cmd.Flags().GetString("mode")
		if err != nil {
			return err
		}

		mode := posix.DefaultDirMode
		if modeStr != "" {
			mode, err = posix.ParseMode(modeStr)
			if err != nil {
				return err
			}
		}

		return posix.Mkdir(args, makeParents, mode)
	},
}

var installCmd = &cobra.Command{
	Use:   "install [-D] [-m MODE] SOURCE DEST | install -d DIR...",
	Short: "A cross-platform implementation of the install command",
	Long: `Copies files and sets their mode (0755 unless -m is given) regardless of the umask.
With -D, missing parent directories of DEST are created.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts posix.InstallOptions
		var err error

		opts.CreateLeading, err = cmd.Flags().GetBool("leading")
		if err != nil {
			return err
		}

		opts.Directories, err = cmd.Flags().GetBool("directory")
		if err != nil {
			return err
		}

		modeStr, err := cmd.Flags().GetString("mode")
		if err != nil {
			return err
		}

		opts.Mode, err = posix.ParseMode(modeStr)
		if err != nil {
			return err
		}

		if opts.Directories {
			return posix.Install(args, "", opts)
		}

		if len(args) < 2 {
			return eris.New("missing destination operand")
		}

		sources, err := expandArgs(args[:len(args)-1], false)
		if err != nil {
			return err
		}

		return posix.Install(sources, args[len(args)-1], opts)
	},
}

func init() {
	rmCmd.Flags().BoolP("recursive", "r", false, "recursively delete directories")
	rmCmd.Flags().BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")
	mkdirCmd.Flags().StringP("mode", "m", "", "set the mode of created directories")
	installCmd.Flags().BoolP("leading", "D", false, "create all leading components of DEST")
	installCmd.Flags().BoolP("directory", "d", false, "treat all arguments as directory names")
	installCmd.Flags().StringP("mode", "m", "755", "set the permission mode")

	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(installCmd)
}
