// Package safety implements the pre-transfer disk-space check (spec
// §4.11/§9): before committing to a batch of downloads, verify the
// destination volume has enough free space to hold them.
package safety

import (
	"errors"
	"fmt"
)

// ErrInsufficientSpace is returned when a volume does not have enough
// free space to accommodate a planned transfer.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// Check verifies that path's volume has at least needed bytes free,
// returning ErrInsufficientSpace (wrapped with the byte counts) otherwise.
func Check(path string, needed int64) error {
	available, err := AvailableSpace(path)
	if err != nil {
		return fmt.Errorf("checking disk space for %s: %w", path, err)
	}

	if needed <= 0 {
		return nil
	}

	if int64(available) < needed {
		return fmt.Errorf("%w: need %d bytes, %d available on %s", ErrInsufficientSpace, needed, available, path)
	}

	return nil
}
