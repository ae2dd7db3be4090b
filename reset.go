package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lostatc/zielen/internal/config"
	"github.com/lostatc/zielen/internal/materialize"
	"github.com/lostatc/zielen/internal/zerrors"
)

func newResetCmd() *cobra.Command {
	var flagKeepRemote, flagNoRetrieve bool

	cmd := &cobra.Command{
		Use:   "reset profile_name|local_path",
		Short: "Retrieve remote files and delete the profile",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errUsage("reset takes exactly one argument: profile_name or local_path")
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd.Context(), args[0], flagKeepRemote, flagNoRetrieve)
		},
	}

	cmd.Flags().BoolVar(&flagKeepRemote, "keep-remote", false, "leave the remote's .zielen state directory in place")
	cmd.Flags().BoolVar(&flagNoRetrieve, "no-retrieve", false, "skip pulling every tracked remote file down before deleting the profile")

	return cmd
}

// runReset implements spec §6's reset command: by default it fully
// materializes every remote-tracked file locally (undoing the partial
// mirror) before tearing down the profile's local state, so the user
// never loses access to a file just because it was symlinked-only.
func runReset(ctx context.Context, arg string, keepRemote, noRetrieve bool) error {
	name, err := resolveProfileName(arg)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, name, false, rootCC.Logger)
	if err != nil {
		return err
	}

	if !noRetrieve {
		if err := retrieveEverything(ctx, sess); err != nil {
			sess.close(ctx)

			return zerrors.Remote(fmt.Sprintf("retrieving remote files for profile %q", name), err)
		}
	}

	if !keepRemote {
		remoteState := config.RemoteStateDir(sess.remoteRoot())
		if err := os.RemoveAll(remoteState); err != nil && !os.IsNotExist(err) {
			sess.close(ctx)

			return zerrors.Remote(fmt.Sprintf("removing remote state for profile %q", name), err)
		}
	}

	sess.close(ctx)

	if err := os.RemoveAll(sess.dir); err != nil {
		return zerrors.Input(fmt.Sprintf("removing profile directory for %q", name), err)
	}

	rootCC.Statusf("Profile %q removed.\n", name)

	return nil
}

func retrieveEverything(ctx context.Context, sess *session) error {
	files, err := sess.rmdb.Files(ctx, "")
	if err != nil {
		return fmt.Errorf("reading remote files: %w", err)
	}

	dirs, err := sess.rmdb.Directories(ctx, "")
	if err != nil {
		return fmt.Errorf("reading remote directories: %w", err)
	}

	filePaths := make([]string, 0, len(files))
	for _, f := range files {
		filePaths = append(filePaths, f.Path)
	}

	dirPaths := make([]string, 0, len(dirs))
	for _, d := range dirs {
		dirPaths = append(dirPaths, d.Path)
	}

	if _, err := materialize.SymlinkTree(sess.remoteRoot(), sess.profile.LocalDir, filePaths, dirPaths, true); err != nil {
		return fmt.Errorf("laying down symlink tree: %w", err)
	}

	if err := materialize.TransferTree(ctx, sess.remoteRoot(), sess.profile.LocalDir, filePaths, 4, nil); err != nil {
		return fmt.Errorf("materializing every tracked file: %w", err)
	}

	return nil
}
