package pkg

import (
	"context"

	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/interp"
)

type logKey struct{}

var nopLogger = zerolog.Nop()

// Log returns the logger attached to ctx. Without one, log events are discarded.
func Log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logKey{})
	if logger == nil {
		return &nopLogger
	}

	return logger.(*zerolog.Logger)
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// ExitCode maps an error to a process exit code. Shell command failures keep their own status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	if status, ok := interp.IsExitStatus(err); ok && status != 0 {
		return int(status)
	}

	return 1
}
