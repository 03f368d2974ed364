package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/config"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/pkgbuild"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/vcs"
)

func recipePath(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("recipe")
	if err != nil {
		return "", err
	}

	if path == "" {
		path = config.FromContext(cmd.Context()).Package.Recipe
	}

	return path, nil
}

var makepkgCmd = &cobra.Command{
	Use:   "makepkg",
	Short: "Builds a package from a PKGBUILD",
	Long: `Runs the PKGBUILD the way makepkg does: retrieves and verifies the sources, runs pkgver(),
build() and package() and creates <pkgname>-<pkgver>-<pkgrel>-<arch>.pkg.tar.zst.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		path, err := recipePath(cmd)
		if err != nil {
			return err
		}

		opts := pkgbuild.Options{
			Compression: cfg.Package.Compression,
			Dest:        cfg.Package.Dest,
			Timeout:     cfg.Download.Timeout,
			Stdout:      cmd.OutOrStdout(),
			Stderr:      cmd.ErrOrStderr(),
		}

		for flag, target := range map[string]*bool{
			"noextract": &opts.NoExtract,
			"nobuild":   &opts.NoBuild,
			"noarchive": &opts.NoArchive,
		} {
			*target, err = cmd.Flags().GetBool(flag)
			if err != nil {
				return err
			}
		}

		if cmd.Flags().Changed("compression") {
			opts.Compression, err = cmd.Flags().GetString("compression")
			if err != nil {
				return err
			}
		}

		result, err := pkgbuild.Make(cmd.Context(), path, opts)
		if err != nil {
			return err
		}

		if result.Package != "" {
			pkg.Log(cmd.Context()).Info().Str("path", result.Package).Msgf("created %s", result.Package)
		}
		return nil
	},
}

var pkgverCmd = &cobra.Command{
	Use:   "pkgver [dir]",
	Short: "Prints <base>.r<commit count>.g<short hash> for the repository containing dir",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}

		base, err := cmd.Flags().GetString("base")
		if err != nil {
			return err
		}

		rev, err := vcs.Describe(dir)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), vcs.FormatVersion(base, rev))
		return nil
	},
}

var printSrcInfoCmd = &cobra.Command{
	Use:   "printsrcinfo",
	Short: "Prints the .SRCINFO of a PKGBUILD",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := recipePath(cmd)
		if err != nil {
			return err
		}

		recipe, err := pkgbuild.Load(cmd.Context(), path, cmd.ErrOrStderr(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		return pkgbuild.WriteSrcInfo(cmd.OutOrStdout(), recipe)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Prints the metadata of a PKGBUILD as YAML or JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := recipePath(cmd)
		if err != nil {
			return err
		}

		format, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}

		recipe, err := pkgbuild.Load(cmd.Context(), path, cmd.ErrOrStderr(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch format {
		case "yaml":
			encoder := yaml.NewEncoder(out)
			encoder.SetIndent(2)
			if err = encoder.Encode(recipe); err != nil {
				return eris.Wrap(err, "failed to encode recipe")
			}
			return encoder.Close()
		case "json":
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(recipe)
		}

		return eris.Errorf("unsupported output format %s (must be yaml or json)", format)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version of this tool",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{makepkgCmd, printSrcInfoCmd, infoCmd} {
		cmd.Flags().StringP("recipe", "p", "", "PKGBUILD to use (default from package.recipe)")
	}

	makepkgCmd.Flags().BoolP("noextract", "e", false, "don't retrieve or extract sources; use the existing $srcdir")
	makepkgCmd.Flags().BoolP("nobuild", "o", false, "skip build()")
	makepkgCmd.Flags().Bool("noarchive", false, "don't create the package archive")
	makepkgCmd.Flags().String("compression", "", "package compression: zst, gz or xz (default from package.compression)")

	pkgverCmd.Flags().String("base", "0.1.0", "version the commit count and hash are appended to")
	infoCmd.Flags().StringP("output", "o", "yaml", "output format: yaml or json")

	rootCmd.AddCommand(makepkgCmd)
	rootCmd.AddCommand(pkgverCmd)
	rootCmd.AddCommand(printSrcInfoCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(versionCmd)
}
