// Package pathexclude implements the exclude matcher (spec §4.5): glob
// patterns read from a file, evaluated relative to a sync root, with a
// leading '/' anchoring a pattern to the root and any other pattern
// matching at any depth.
package pathexclude

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher holds a parsed set of exclude patterns and memoizes Matches per
// root, so repeated queries within one reconciliation pass are cheap.
type Matcher struct {
	patterns []string

	mu    sync.Mutex
	cache map[string]Result
}

// Result is the outcome of evaluating the matcher against a root.
type Result struct {
	// DirectMatches are the paths returned directly by a pattern's glob.
	DirectMatches []string
	// AllMatches is DirectMatches plus every descendant of each direct
	// match that is a directory.
	AllMatches []string
}

// Contains reports whether p is in AllMatches.
func (r Result) Contains(p string) bool {
	for _, m := range r.AllMatches {
		if m == p {
			return true
		}
	}

	return false
}

// ParsePatterns reads newline-separated glob patterns from r. Blank lines
// and lines whose first non-whitespace character is '#' are ignored.
func ParsePatterns(r io.Reader) ([]string, error) {
	var patterns []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		patterns = append(patterns, line)
	}

	return patterns, scanner.Err()
}

// LoadFile reads and parses the exclude file at path. A missing file is
// treated as an empty pattern set.
func LoadFile(exPath string) (*Matcher, error) {
	f, err := os.Open(exPath)
	if os.IsNotExist(err) {
		return New(nil), nil
	}

	if err != nil {
		return nil, err
	}
	defer f.Close()

	patterns, err := ParsePatterns(f)
	if err != nil {
		return nil, err
	}

	return New(patterns), nil
}

// New constructs a Matcher from an already-parsed pattern list.
func New(patterns []string) *Matcher {
	return &Matcher{patterns: patterns, cache: make(map[string]Result)}
}

// Patterns returns the matcher's underlying pattern list, for callers that
// need to merge several clients' exclude files into one combined matcher
// (spec §6's per-profile `exclude/<profile_uuid>` files on the remote).
func (m *Matcher) Patterns() []string {
	return m.patterns
}

// globPattern converts a spec-style pattern into the doublestar pattern
// evaluated against root: a leading '/' anchors to root (stripped before
// globbing); any other pattern is prefixed with "**/" so it matches at any
// depth, per spec §4.5.
func globPattern(p string) string {
	if strings.HasPrefix(p, "/") {
		return strings.TrimPrefix(p, "/")
	}

	return "**/" + p
}

// Matches evaluates every pattern under root and returns the direct and
// transitive match sets. Results are memoized per root.
func (m *Matcher) Matches(root string) (Result, error) {
	m.mu.Lock()
	if cached, ok := m.cache[root]; ok {
		m.mu.Unlock()

		return cached, nil
	}
	m.mu.Unlock()

	result, err := m.computeMatches(root)
	if err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	m.cache[root] = result
	m.mu.Unlock()

	return result, nil
}

func (m *Matcher) computeMatches(root string) (Result, error) {
	fsys := os.DirFS(root)

	seen := make(map[string]bool)

	var direct []string

	for _, pattern := range m.patterns {
		glob := globPattern(pattern)

		matches, err := doublestar.Glob(fsys, glob)
		if err != nil {
			return Result{}, err
		}

		for _, match := range matches {
			if match == "." {
				continue
			}

			if !seen[match] {
				seen[match] = true

				direct = append(direct, match)
			}
		}
	}

	all := make([]string, len(direct))
	copy(all, direct)

	allSeen := make(map[string]bool, len(direct))
	for _, d := range direct {
		allSeen[d] = true
	}

	for _, d := range direct {
		descendants, err := descendantsOf(root, d)
		if err != nil {
			return Result{}, err
		}

		for _, desc := range descendants {
			if !allSeen[desc] {
				allSeen[desc] = true

				all = append(all, desc)
			}
		}
	}

	return Result{DirectMatches: direct, AllMatches: all}, nil
}

// descendantsOf walks rel (relative to root) and returns every descendant
// path if rel names a directory, or nil if it names a file.
func descendantsOf(root, rel string) ([]string, error) {
	abs := filepath.Join(root, rel)

	info, err := os.Lstat(abs)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	var descendants []string

	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if p == abs {
			return nil
		}

		r, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}

		descendants = append(descendants, filepath.ToSlash(r))

		return nil
	})

	return descendants, err
}

// MatchesPath reports whether p (a relative path, separator-aligned) is
// excluded under root: equal to a direct match, or a descendant of one, per
// spec §4.5 / §4.7's scanner exclusion rule.
func (m *Matcher) MatchesPath(root, p string) (bool, error) {
	result, err := m.Matches(root)
	if err != nil {
		return false, err
	}

	if result.Contains(p) {
		return true, nil
	}

	for _, d := range result.DirectMatches {
		if p == d || strings.HasPrefix(p, d+"/") {
			return true, nil
		}
	}

	return false, nil
}
