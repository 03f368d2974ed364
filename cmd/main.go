package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/webstriiix/calculator-cli/build-tools/pkg"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/buildinfo"
	taskcmd "github.com/webstriiix/calculator-cli/build-tools/pkg/buildsys/cmd"
	"github.com/webstriiix/calculator-cli/build-tools/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "tool",
	Short: "Build and packaging tools for calculator_cli",
	Long: `This command bundles the tools used to build, install and package calculator_cli.
This includes the build targets (task), the PKGBUILD runner (makepkg) and portable
implementations of install, rm, mkdir and mv.`,
	Version:       buildinfo.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := newLogger(cfg)
		ctx := pkg.WithLogger(cmd.Context(), &logger)
		ctx = config.WithConfig(ctx, cfg)
		cmd.SetContext(ctx)
		return nil
	},
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(pkg.NewConsoleWriter(os.Stderr))
	}

	return logger.Level(cfg.LogLevel())
}

func init() {
	rootCmd.AddCommand(taskcmd.RootCmd)
}

// Execute runs the command line and exits with the status of the failed command, if any.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		logger := zerolog.New(pkg.NewConsoleWriter(os.Stderr))
		logger.Error().Err(err).Msg("")
		os.Exit(pkg.ExitCode(err))
	}
}
