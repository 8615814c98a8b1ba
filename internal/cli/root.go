package cli

import (
	"fmt"
	"io"
	"log/slog"

	"student-sandbox/internal/app"
	"student-sandbox/internal/config"
	"student-sandbox/internal/logger"
	"student-sandbox/internal/telemetry"

	"github.com/spf13/cobra"
)

// RootOptions holds the command-line overrides applied on top of the loaded config.
type RootOptions struct {
	Verbose    bool
	DeleteMode string
}

// NewRootCommand creates the sandbox command. Script output goes to out,
// logs go to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run the student ORM demonstration",
		Long: `Run the student ORM demonstration against an in-memory store.

The command declares the students table, seeds two students and prints the
result of each read, ordering, filter, aggregate and update step.

Example:
  sandbox
  sandbox --delete instance --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, out, errOut)
		},
	}

	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging, SQL query logging and metric export to stderr")
	cmd.Flags().StringVar(&opts.DeleteMode, "delete", config.DeleteNone, "delete step to run (none|instance|bulk)")

	cmd.AddCommand(NewVersionCommand())

	return cmd
}

func run(cmd *cobra.Command, opts *RootOptions, out, errOut io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if cmd.Flags().Changed("delete") {
		if err := config.ValidateDeleteMode(opts.DeleteMode); err != nil {
			return WrapExitError(ExitCommandError, "invalid flag", err)
		}
		cfg.Script.DeleteMode = opts.DeleteMode
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
		cfg.Database.LogQueries = true
		cfg.Telemetry.Stdout = true
	}

	log := logger.NewWithServiceContext(errOut, app.ServiceName, app.Version, cfg.Log.Level)
	slog.SetDefault(log)

	ctx := cmd.Context()

	application, err := app.New(ctx, cfg, log, out, telemetry.WithWriter(errOut))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize application", err)
	}
	defer func() {
		if err := application.Shutdown(ctx); err != nil {
			log.ErrorContext(ctx, "shutdown failed", "error", err)
		}
	}()

	if err := application.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "script failed", err)
	}
	return nil
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s)\n",
				app.ServiceName, app.Version, app.GitCommit, app.BuildTime)
			return err
		},
	}
}
