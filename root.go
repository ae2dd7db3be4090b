package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// usageError marks a bad command-line invocation (spec §6 exit code 2),
// as distinct from an operational failure (exit code 1).
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

// errUsage wraps msg as a usageError.
func errUsage(msg string) error { return &usageError{msg: msg} }

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagDebug bool
	flagQuiet bool
)

// CLIContext bundles the global flags and logger every command needs,
// built once in PersistentPreRunE (mirrors the teacher's CLIContext).
type CLIContext struct {
	Flags  GlobalFlags
	Logger *slog.Logger
}

// GlobalFlags is the parsed state of the global persistent flags.
type GlobalFlags struct {
	Debug bool
	Quiet bool
}

var rootCC *CLIContext

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "zielen",
		Short:   "Partial-mirror file synchronization",
		Long:    "zielen keeps a local directory and a remote directory in sync, materializing only as much of the remote tree as fits in a configured storage limit.",
		Version: version,
		// Silence Cobra's default error/usage printing — main() formats
		// errors itself via exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelWarn

			if flagDebug {
				level = slog.LevelDebug
			}

			if flagQuiet {
				level = slog.LevelError
			}

			rootCC = &CLIContext{
				Flags:  GlobalFlags{Debug: flagDebug, Quiet: flagQuiet},
				Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
			}

			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "print full error trace")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newEmptyTrashCmd())

	return cmd
}

// exitOnError prints a user-friendly error message to stderr and exits
// with exitCodeFor's code: 2 for a usageError raised by a command's
// argument check, 1 for everything else (including cobra's own flag
// parsing errors, which are plain errors).
func exitOnError(err error) {
	if rootCC != nil && rootCC.Flags.Debug {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	os.Exit(exitCodeFor(err))
}

// exitCodeFor maps err to the process exit code spec §6 describes: 0
// success (never reached here — exitOnError is only called on error), 1
// operational error, 2 bad command-line usage.
func exitCodeFor(err error) int {
	var ue *usageError
	if errors.As(err, &ue) {
		return 2
	}

	return 1
}
