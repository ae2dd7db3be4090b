package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lostatc/zielen/internal/config"
	"github.com/lostatc/zielen/internal/trashlifecycle"
	"github.com/lostatc/zielen/internal/zerrors"
)

func newEmptyTrashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "empty-trash profile_name|local_path",
		Short: "Permanently delete everything in the remote trash",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errUsage("empty-trash takes exactly one argument: profile_name or local_path")
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmptyTrash(cmd.Context(), args[0])
		},
	}

	return cmd
}

func runEmptyTrash(ctx context.Context, arg string) error {
	name, err := resolveProfileName(arg)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, name, true, rootCC.Logger)
	if err != nil {
		return err
	}
	defer sess.close(ctx)

	trashDir := config.RemoteTrashDir(sess.remoteRoot())

	removed, err := trashlifecycle.Cleanup(trashDir, 0, time.Now())
	if err != nil {
		return zerrors.Remote(fmt.Sprintf("emptying trash for profile %q", name), err)
	}

	rootCC.Statusf("Removed %d entries from %q's remote trash.\n", len(removed), name)

	return nil
}
