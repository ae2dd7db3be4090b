// Package trashoracle implements the trash-reuse oracle (spec §4.6): before
// a remote deletion is propagated into the remote .trash, ask whether an
// identical copy already sits in one of the user's local desktop trash
// directories, in which case the remote copy can be removed permanently
// instead of duplicated into .trash.
package trashoracle

import (
	"crypto/sha256"
	"hash"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

// DiskUsage returns the recursive size in bytes of path: its own size if a
// regular file, or the sum of every regular file beneath it if a
// directory. This is the "size of the candidate" / trash-entry size used
// throughout the oracle (spec §4.6 steps 1-2).
func DiskUsage(path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}

	if info.Mode().IsRegular() {
		return info.Size(), nil
	}

	if !info.IsDir() {
		// Symlinks and other special files contribute no bytes.
		return 0, nil
	}

	var total int64

	err = filepath.Walk(path, func(p string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if fi.Mode().IsRegular() {
			total += fi.Size()
		}

		return nil
	})

	return total, err
}

// newDigester returns BLAKE2b-256 if available, falling back to SHA-256
// (spec §4.6 step 4: "BLAKE2b preferred, SHA-256 fallback").
func newDigester() hash.Hash {
	if h, err := blake2b.New256(nil); err == nil {
		return h
	}

	return sha256.New()
}

// digestFile returns the content digest of a regular file.
func digestFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := newDigester()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

// candidateEntry is one top-level member of a trash directory.
type candidateEntry struct {
	path string
	size int64
	dir  bool
}

func listTopLevel(trashDir string) ([]candidateEntry, error) {
	entries, err := os.ReadDir(trashDir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	var result []candidateEntry

	for _, e := range entries {
		abs := filepath.Join(trashDir, e.Name())

		size, err := DiskUsage(abs)
		if err != nil {
			continue
		}

		result = append(result, candidateEntry{path: abs, size: size, dir: e.IsDir()})
	}

	return result, nil
}

// Contains reports whether an identical copy of candidatePath already
// exists as a top-level entry of any of trashDirs. The check is
// size-conservative: a size mismatch is decisive without computing any
// digest (spec §4.6: "The oracle is size-conservative"). Directory entries
// are skipped outright — per spec §9's open question, a top-level trash
// directory entry is treated as a coarse, indivisible unit, so it can
// never content-match a single candidate file.
func Contains(candidatePath string, trashDirs []string) (bool, error) {
	info, err := os.Lstat(candidatePath)
	if err != nil {
		return false, err
	}

	if !info.Mode().IsRegular() {
		return false, nil
	}

	candidateSize, err := DiskUsage(candidatePath)
	if err != nil {
		return false, err
	}

	var candidateDigest []byte

	for _, trashDir := range trashDirs {
		entries, err := listTopLevel(trashDir)
		if err != nil {
			continue
		}

		for _, e := range entries {
			if e.dir || e.size != candidateSize {
				continue
			}

			if candidateDigest == nil {
				candidateDigest, err = digestFile(candidatePath)
				if err != nil {
					return false, err
				}
			}

			otherDigest, err := digestFile(e.path)
			if err != nil {
				continue
			}

			if digestsEqual(candidateDigest, otherDigest) {
				return true, nil
			}
		}
	}

	return false, nil
}

func digestsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
