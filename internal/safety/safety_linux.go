//go:build linux

package safety

import "golang.org/x/sys/unix"

// AvailableSpace returns the bytes available (to unprivileged users) on
// the volume containing path. Uses Bavail rather than Bfree, which
// includes root-reserved blocks this process may not be able to use.
func AvailableSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}

	return uint64(stat.Bavail) * uint64(stat.Bsize), nil //nolint:gosec // kernel guarantees non-negative values
}
