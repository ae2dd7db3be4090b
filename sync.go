package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lostatc/zielen/internal/config"
	"github.com/lostatc/zielen/internal/zerrors"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync profile_name|local_path",
		Short: "Run one reconciliation pass",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errUsage("sync takes exactly one argument: profile_name or local_path")
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := shutdownContext(cmd.Context(), rootCC.Logger)

			return runSync(ctx, args[0])
		},
	}

	return cmd
}

func runSync(ctx context.Context, arg string) error {
	name, err := resolveProfileName(arg)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, name, false, rootCC.Logger)
	if err != nil {
		return err
	}
	defer sess.close(ctx)

	now := time.Now()

	report, err := sess.coordinator().RunOnce(ctx, sess.info.LastSync, sess.info.LastAdjust, now)

	// The report's LastSync/LastAdjust are meaningful even on a partial
	// failure (spec §4.14: "a crash mid-pass can be resumed from the
	// last completed step"), so they are always persisted.
	sess.info.LastSync = report.LastSync
	sess.info.LastAdjust = report.LastAdjust

	if err != nil {
		sess.saveInfo(sess.info)

		return zerrors.Remote(fmt.Sprintf("sync failed for profile %q", name), err)
	}

	sess.info.Status = config.StatusInitialized

	if saveErr := sess.saveInfo(sess.info); saveErr != nil {
		return zerrors.Input("saving profile state", saveErr)
	}

	rootCC.Statusf("%s: +%d/-%d local, +%d/-%d remote, %d conflicts, %d failures\n",
		name, report.AddedLocal, report.DeletedLocal, report.AddedRemote, report.DeletedRemote,
		report.Conflicts, len(report.Failures))

	for _, f := range report.Failures {
		rootCC.Statusf("  failed: %s\n", f)
	}

	return nil
}
