// Package cmd provides the CLI commands for fileindexer.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/enata/fileindexer/internal/config"
	fierrors "github.com/enata/fileindexer/internal/errors"
	"github.com/enata/fileindexer/internal/logging"
	"github.com/enata/fileindexer/internal/profiling"
	"github.com/enata/fileindexer/pkg/indexer"
	"github.com/enata/fileindexer/pkg/version"
)

// rootOptions carries persistent flag values and the state started from them.
type rootOptions struct {
	debug   bool
	profile profiling.Options

	profiler       *profiling.Profiler
	logger         *slog.Logger
	loggingCleanup func()
}

// NewRootCmd creates the root command for the fileindexer CLI.
func NewRootCmd() *cobra.Command {
	ro := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fileindexer",
		Short: "Watch directories and query files by the words they contain",
		Long: `fileindexer keeps an inverted word index over watched directories and
individually registered files, following creations, changes, renames, and
deletions as they happen.

Queries combine words with AND (also "&", ";", or juxtaposition) and OR
(also "|"), with parentheses for grouping.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("fileindexer version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&ro.debug, "debug", false, "Enable debug logging to ~/.fileindexer/logs/ and stderr")
	cmd.PersistentFlags().StringVar(&ro.profile.CPUPath, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&ro.profile.HeapPath, "profile-mem", "", "Write heap profile to file")
	cmd.PersistentFlags().StringVar(&ro.profile.GoroutinePath, "profile-goroutine", "", "Write goroutine profile to file")
	cmd.PersistentFlags().StringVar(&ro.profile.TracePath, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = ro.start
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error { return ro.stop() }

	cmd.AddCommand(newWatchCmd(ro))
	cmd.AddCommand(newQueryCmd(ro))
	cmd.AddCommand(newTreeCmd(ro))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// start begins profiling and debug logging if requested.
func (ro *rootOptions) start(_ *cobra.Command, _ []string) error {
	if ro.debug {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		ro.logger = logger
		ro.loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Debug("debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if ro.profile.Enabled() {
		p, err := profiling.Start(ro.profile)
		if err != nil {
			ro.stopLogging()
			return err
		}
		ro.profiler = p
	}
	return nil
}

// stop ends profiling and logging.
func (ro *rootOptions) stop() error {
	var err error
	if ro.profiler != nil {
		err = ro.profiler.Stop()
		ro.profiler = nil
	}
	ro.stopLogging()
	return err
}

func (ro *rootOptions) stopLogging() {
	if ro.loggingCleanup != nil {
		ro.loggingCleanup()
		ro.loggingCleanup = nil
	}
}

// openManager loads the configuration for the working directory and builds
// a manager from it. The returned cleanup closes the manager and any log
// file opened for it.
func (ro *rootOptions) openManager() (*indexer.Manager, func(), error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, nil, fierrors.ConfigError("failed to load config", err)
	}

	logger := ro.logger
	logCleanup := func() {}
	if logger == nil {
		logger, logCleanup, err = logging.Setup(cfg.LoggingConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
		}
	}

	opts := append(indexer.OptionsFromConfig(cfg), indexer.WithLogger(logger))
	m, err := indexer.NewManager(opts...)
	if err != nil {
		logCleanup()
		return nil, nil, err
	}

	return m, func() {
		_ = m.Close()
		logCleanup()
	}, nil
}

// Execute runs the root command.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx, printing any error.
func ExecuteContext(ctx context.Context) error {
	cmd := NewRootCmd()
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), fierrors.FormatForCLI(err))
	}
	return err
}
