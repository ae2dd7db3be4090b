// Package dirscan implements the memoized recursive directory scanner
// (spec §4.7), including unsafe-symlink detection.
package dirscan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lostatc/zielen/internal/pathexclude"
)

// Kind classifies a scanned entry.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// Entry is one (relative path, stat) pair yielded by a scan.
type Entry struct {
	Path   string
	Kind   Kind
	Size   int64
	ModTime int64 // unix nanoseconds, captured without following symlinks
	// Unsafe is set for symlinks whose resolved target escapes the sync
	// root (spec §4.7: "Unsafe symlink").
	Unsafe bool
}

// Include selects which entry kinds a Scan call returns.
type Include struct {
	Files    bool
	Dirs     bool
	Symlinks bool
}

// AllKinds returns an Include selecting every entry kind.
func AllKinds() Include { return Include{Files: true, Dirs: true, Symlinks: true} }

// Scanner performs memoized recursive walks of one root directory.
type Scanner struct {
	root    string
	exclude *pathexclude.Matcher

	mu    sync.Mutex
	cache map[Include][]Entry
}

// New constructs a Scanner rooted at root. exclude may be nil (no
// exclusions).
func New(root string, exclude *pathexclude.Matcher) *Scanner {
	if exclude == nil {
		exclude = pathexclude.New(nil)
	}

	return &Scanner{root: root, exclude: exclude, cache: make(map[Include][]Entry)}
}

// Scan walks the root and returns every entry matching include. memoize
// controls whether the result is cached/read-from-cache; callers that need
// post-mutation sizes (the selection engine, per spec §4.7) pass false.
func (s *Scanner) Scan(include Include, memoize bool) ([]Entry, error) {
	if memoize {
		s.mu.Lock()
		if cached, ok := s.cache[include]; ok {
			s.mu.Unlock()

			return cached, nil
		}
		s.mu.Unlock()
	}

	excludeResult, err := s.exclude.Matches(s.root)
	if err != nil {
		return nil, fmt.Errorf("evaluating exclude patterns: %w", err)
	}

	var entries []Entry

	err = filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if p == s.root {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		if excludeResult.Contains(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		entry := Entry{Path: rel, Size: info.Size(), ModTime: info.ModTime().UnixNano()}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			entry.Kind = KindSymlink
			entry.Unsafe = s.isUnsafe(p)
		case d.IsDir():
			entry.Kind = KindDir
		default:
			entry.Kind = KindFile
		}

		if wanted(include, entry.Kind) {
			entries = append(entries, entry)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.root, err)
	}

	if memoize {
		s.mu.Lock()
		s.cache[include] = entries
		s.mu.Unlock()
	}

	return entries, nil
}

func wanted(include Include, k Kind) bool {
	switch k {
	case KindFile:
		return include.Files
	case KindDir:
		return include.Dirs
	case KindSymlink:
		return include.Symlinks
	default:
		return false
	}
}

// isUnsafe reports whether the symlink at absPath resolves (relative to
// its parent directory) outside the scan root, or has an absolute target.
func (s *Scanner) isUnsafe(absPath string) bool {
	target, err := os.Readlink(absPath)
	if err != nil {
		return true
	}

	if filepath.IsAbs(target) {
		return true
	}

	resolved := filepath.Clean(filepath.Join(filepath.Dir(absPath), target))

	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return true
	}

	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// InvalidateCache clears every memoized scan result.
func (s *Scanner) InvalidateCache() {
	s.mu.Lock()
	s.cache = make(map[Include][]Entry)
	s.mu.Unlock()
}
