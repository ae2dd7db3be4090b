package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lostatc/zielen/internal/aging"
	"github.com/lostatc/zielen/internal/config"
	"github.com/lostatc/zielen/internal/lock"
	"github.com/lostatc/zielen/internal/localdb"
	"github.com/lostatc/zielen/internal/mount"
	"github.com/lostatc/zielen/internal/pathexclude"
	"github.com/lostatc/zielen/internal/reconcile"
	"github.com/lostatc/zielen/internal/remotedb"
	"github.com/lostatc/zielen/internal/zerrors"
)

// session bundles one profile's resolved config, persisted state, and open
// database handles for the lifetime of a single command invocation.
type session struct {
	name       string
	dir        string
	profile    config.Profile
	info       config.Info
	lpdb       *localdb.DB
	rmdb       *remotedb.DB
	localExcl  *pathexclude.Matcher
	remoteExcl *pathexclude.Matcher
	mounter    mount.Mounter
	lck        *lock.Lock
	logger     *slog.Logger
}

// resolveProfileName turns the sync/reset/empty-trash positional argument
// (profile_name or local_path, spec §6) into a registered profile name.
func resolveProfileName(arg string) (string, error) {
	if _, err := os.Stat(config.ConfigFilePath(config.ProfileDir(arg))); err == nil {
		return arg, nil
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", zerrors.Input(fmt.Sprintf("resolving path %q", arg), err)
	}

	entries, err := os.ReadDir(config.ProfilesRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return "", zerrors.Input(fmt.Sprintf("no profile named %q and no profiles exist", arg), nil)
		}

		return "", zerrors.Input("listing profiles", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		p, err := config.LoadProfile(config.ConfigFilePath(config.ProfileDir(e.Name())))
		if err != nil {
			continue
		}

		if p.LocalDir == abs {
			return e.Name(), nil
		}
	}

	return "", zerrors.Input(fmt.Sprintf("%q is neither a profile name nor a known local sync directory", arg), nil)
}

// openSession reads the profile's persisted state, acquires the profile
// lock, mounts the remote, and opens both databases (spec §4.14:
// ACQUIRE_LOCK, READ_PROFILE, MOUNT_REMOTE, the steps RunOnce assumes are
// already done). requireInitialized rejects a profile still in partial
// status.
func openSession(ctx context.Context, name string, requireInitialized bool, logger *slog.Logger) (*session, error) {
	dir := config.ProfileDir(name)

	info, err := config.LoadInfo(config.InfoFilePath(dir))
	if err != nil {
		return nil, zerrors.FileParse(fmt.Sprintf("reading profile %q state", name), err)
	}

	if requireInitialized && info.Status != config.StatusInitialized {
		return nil, zerrors.Status(fmt.Sprintf("profile %q has not finished initializing (run `zielen init %s` again)", name, name), nil)
	}

	profile, err := config.LoadProfile(config.ConfigFilePath(dir))
	if err != nil {
		return nil, zerrors.FileParse(fmt.Sprintf("reading profile %q config", name), err)
	}

	lck, err := lock.Acquire(filepath.Join(dir, "lock"))
	if err != nil {
		return nil, zerrors.Status(fmt.Sprintf("profile %q is busy", name), err)
	}

	mountDir := config.MountDir(dir)
	remoteRoot := mountDir

	if profile.IsLocalRemote() {
		remoteRoot = profile.RemoteDir
	}

	mounter := mount.SSHFS{
		Host:            profile.RemoteHost,
		User:            profile.RemoteUser,
		Port:            profile.Port,
		RemotePath:      profile.RemoteDir,
		LocalMountPoint: mountDir,
	}

	if err := mounter.Mount(ctx); err != nil {
		lck.Release()

		return nil, zerrors.Remote(fmt.Sprintf("mounting remote for profile %q", name), err)
	}

	localExcl, err := pathexclude.LoadFile(config.ExcludeFilePath(dir))
	if err != nil {
		mounter.Unmount(ctx)
		lck.Release()

		return nil, zerrors.FileParse(fmt.Sprintf("reading profile %q exclude file", name), err)
	}

	remoteExclDir := config.RemoteExcludeDir(remoteRoot)
	remoteExcl := pathexclude.New(nil)

	if entries, err := os.ReadDir(remoteExclDir); err == nil {
		var patterns []string

		for _, e := range entries {
			if e.IsDir() {
				continue
			}

			m, err := pathexclude.LoadFile(filepath.Join(remoteExclDir, e.Name()))
			if err != nil {
				continue
			}

			patterns = append(patterns, m.Patterns()...)
		}

		remoteExcl = pathexclude.New(patterns)
	}

	lpdb, err := localdb.Open(ctx, config.LocalDBPath(dir), logger)
	if err != nil {
		mounter.Unmount(ctx)
		lck.Release()

		return nil, zerrors.FileParse(fmt.Sprintf("opening local database for profile %q", name), err)
	}

	if err := os.MkdirAll(config.RemoteStateDir(remoteRoot), 0o755); err != nil {
		lpdb.Close()
		mounter.Unmount(ctx)
		lck.Release()

		return nil, zerrors.Remote(fmt.Sprintf("creating remote state directory for profile %q", name), err)
	}

	rmdb, err := remotedb.Open(ctx, config.RemoteDBPath(remoteRoot), logger)
	if err != nil {
		lpdb.Close()
		mounter.Unmount(ctx)
		lck.Release()

		return nil, zerrors.FileParse(fmt.Sprintf("opening remote database for profile %q", name), err)
	}

	return &session{
		name:       name,
		dir:        dir,
		profile:    profile,
		info:       info,
		lpdb:       lpdb,
		rmdb:       rmdb,
		localExcl:  localExcl,
		remoteExcl: remoteExcl,
		mounter:    mounter,
		lck:        lck,
		logger:     logger,
	}, nil
}

// remoteRoot returns the reachable remote directory (the sshfs mount point
// for a non-local profile, or RemoteDir directly for a local one).
func (s *session) remoteRoot() string {
	if s.profile.IsLocalRemote() {
		return s.profile.RemoteDir
	}

	return config.MountDir(s.dir)
}

// coordinator builds the reconciliation coordinator for this session.
func (s *session) coordinator() *reconcile.Coordinator {
	return reconcile.New(reconcile.Config{
		LocalRoot:           s.profile.LocalDir,
		RemoteRoot:          s.remoteRoot(),
		StorageLimit:        s.profile.StorageLimit,
		AccountForSize:      s.profile.AccountForSize,
		InflatePriority:     s.profile.InflatePriority,
		UseTrash:            s.profile.UseTrash,
		TrashDirs:           s.profile.TrashDirs,
		TrashCleanupPeriod:  s.profile.TrashCleanupPeriod,
		TransferConcurrency: 4,
		LocalExclude:        s.localExcl,
		RemoteExclude:       s.remoteExcl,
		LPDB:                s.lpdb,
		RMDB:                s.rmdb,
		Aging:               aging.New(s.lpdb, s.profile.PriorityHalfLife, s.logger),
		Logger:              s.logger,
	})
}

// saveInfo persists i as the profile's current state.
func (s *session) saveInfo(i config.Info) error {
	return config.SaveInfo(config.InfoFilePath(s.dir), i)
}

// close releases every resource opened by openSession: it closes both
// databases, unmounts the remote, and releases the lock last so the lock
// is held for the full duration of the unmount.
func (s *session) close(ctx context.Context) {
	s.rmdb.Close()
	s.lpdb.Close()
	s.mounter.Unmount(ctx)
	s.lck.Release()
}
