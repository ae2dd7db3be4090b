// Package mount implements the remote-mount collaborator contract (spec
// §4.15/§5): before the reconciler can scan or write the remote side, an
// SSH host's directory must be reachable as an ordinary local path. This
// package mounts it with sshfs and unmounts it afterward, each operation
// bounded by a short timeout since a dead or unreachable host must never
// hang a sync indefinitely.
package mount

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// opTimeout bounds every mount/unmount subprocess (spec §5: mount
// operations are bounded, not allowed to block a sync forever).
const opTimeout = 20 * time.Second

// Mounter makes a remote directory available as a local path and tears
// it down again.
type Mounter interface {
	// Mount makes the remote directory available at LocalMountPoint,
	// returning immediately (without an error) if it is already mounted.
	Mount(ctx context.Context) error
	// Unmount tears down a previously established mount. It is a no-op
	// if nothing is mounted.
	Unmount(ctx context.Context) error
	// Mounted reports whether LocalMountPoint currently has the remote
	// directory mounted.
	Mounted() (bool, error)
}

// SSHFS mounts a remote directory over SSH via sshfs. A Host of
// "localhost" or "" is treated as the sentinel for "the remote directory
// is already a local path" (spec §3a supplement, resolved from
// original_source's RemoteHost handling): Mount/Unmount become no-ops and
// Mounted always reports true, so callers can treat every profile
// uniformly regardless of whether its remote is actually remote.
type SSHFS struct {
	Host            string
	User            string
	Port            int
	RemotePath      string
	LocalMountPoint string
}

// Mount runs sshfs to mount RemotePath at LocalMountPoint.
func (m SSHFS) Mount(ctx context.Context) error {
	if m.isLocalSentinel() {
		return nil
	}

	mounted, err := m.Mounted()
	if err != nil {
		return err
	}

	if mounted {
		return nil
	}

	if err := os.MkdirAll(m.LocalMountPoint, 0o755); err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	remote := fmt.Sprintf("%s:%s", m.hostSpec(), m.RemotePath)
	args := []string{remote, m.LocalMountPoint, "-p", fmt.Sprintf("%d", m.Port), "-o", "reconnect"}

	cmd := exec.CommandContext(ctx, "sshfs", args...)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sshfs mount failed: %w: %s", err, string(out))
	}

	return nil
}

// Unmount runs fusermount (or umount as a fallback) to tear down the
// mount at LocalMountPoint.
func (m SSHFS) Unmount(ctx context.Context) error {
	if m.isLocalSentinel() {
		return nil
	}

	mounted, err := m.Mounted()
	if err != nil {
		return err
	}

	if !mounted {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "fusermount", "-u", m.LocalMountPoint)
	if out, err := cmd.CombinedOutput(); err != nil {
		cmd = exec.CommandContext(ctx, "umount", m.LocalMountPoint)
		if out2, err2 := cmd.CombinedOutput(); err2 != nil {
			return fmt.Errorf("unmounting %s failed: %w: %s / %s", m.LocalMountPoint, err2, string(out), string(out2))
		}
	}

	return nil
}

// Mounted reports whether LocalMountPoint is currently a mount point, by
// comparing its device ID against its parent's (a mounted filesystem
// always has a different device ID than its parent directory).
func (m SSHFS) Mounted() (bool, error) {
	if m.isLocalSentinel() {
		return true, nil
	}

	return isMountPoint(m.LocalMountPoint)
}

func (m SSHFS) isLocalSentinel() bool {
	return m.Host == "" || m.Host == "localhost"
}

func (m SSHFS) hostSpec() string {
	if m.User == "" {
		return m.Host
	}

	return m.User + "@" + m.Host
}
