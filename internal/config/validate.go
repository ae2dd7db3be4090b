package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// profileNameRe matches valid profile names: word characters only, no
// whitespace (spec §7 Input error: "invalid profile name (whitespace,
// non-word characters)").
var profileNameRe = regexp.MustCompile(`^\w+$`)

// ValidateProfileName rejects names containing whitespace or non-word
// characters.
func ValidateProfileName(name string) error {
	if !profileNameRe.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must contain only letters, digits, and underscores", name)
	}

	return nil
}

// CheckOverlap enumerates existing profile directories and loads each
// config on demand to verify that localDir does not overlap (is not equal
// to, nor an ancestor or descendant of) any already-registered profile's
// LocalDir, and is not inside the program's own config directory. This
// replaces the teacher/source's "weak set of live ConfigFile instances"
// approach (spec §9 Design Notes) with a stateless on-demand scan.
func CheckOverlap(localDir string) error {
	root := ProfilesRoot()

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("listing profiles: %w", err)
	}

	absLocal, err := filepath.Abs(localDir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", localDir, err)
	}

	if within(absLocal, DefaultConfigDir()) || within(DefaultConfigDir(), absLocal) {
		return fmt.Errorf("%s overlaps the program's own config directory", localDir)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		cfgPath := ConfigFilePath(filepath.Join(root, e.Name()))

		other, err := LoadProfile(cfgPath)
		if err != nil {
			continue
		}

		absOther, err := filepath.Abs(other.LocalDir)
		if err != nil {
			continue
		}

		if within(absLocal, absOther) || within(absOther, absLocal) {
			return fmt.Errorf("%s overlaps profile %q's local directory %s", localDir, e.Name(), other.LocalDir)
		}
	}

	return nil
}

// within reports whether a path equals or is nested inside base.
func within(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}

	return rel == "." || (len(rel) > 0 && rel[0] != '.' && !filepath.IsAbs(rel))
}
