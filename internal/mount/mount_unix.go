//go:build !windows

package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// isMountPoint reports whether path sits on a different device than its
// parent directory, the standard Unix test for "something is mounted
// here".
func isMountPoint(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	parentInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return false, err
	}

	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("mount detection unsupported on this platform")
	}

	pst, ok := parentInfo.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("mount detection unsupported on this platform")
	}

	return st.Dev != pst.Dev, nil
}
