package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Profile holds the resolved contents of a profile's config file (spec §3
// Config table). Every field corresponds to one recognized key; unknown
// keys are a fatal parse error at load time (spec §6).
type Profile struct {
	LocalDir  string
	RemoteDir string

	RemoteHost string
	RemoteUser string
	Port       int

	StorageLimit int64

	SyncInterval time.Duration

	SshfsOptions string

	TrashDirs []string

	PriorityHalfLife time.Duration

	UseTrash bool

	InflatePriority bool
	AccountForSize  bool

	TrashCleanupPeriod time.Duration
}

// IsLocalRemote reports whether the remote is reachable on the local
// filesystem without mounting (RemoteHost unset or "localhost"), mirroring
// zielen/profile.py's ProfileConfigFile sentinel check.
func (p Profile) IsLocalRemote() bool {
	return p.RemoteHost == "" || p.RemoteHost == "localhost"
}

// DefaultProfile returns the built-in defaults applied before the config
// file is parsed, for callers (such as `init`) that build up a Profile
// without going through ParseProfile.
func DefaultProfile() Profile {
	return defaultProfile()
}

// defaultProfile returns the built-in defaults applied before the config
// file is parsed, so every key the user omits still has a sane value.
func defaultProfile() Profile {
	return Profile{
		SyncInterval:       5 * time.Minute,
		PriorityHalfLife:   7 * 24 * time.Hour,
		UseTrash:           true,
		InflatePriority:    false,
		AccountForSize:     false,
		TrashCleanupPeriod: 30 * 24 * time.Hour,
		Port:               22,
	}
}

// recognizedKeys lists every key a config file is allowed to set (spec
// §6: "Unknown keys are a fatal parse error at load time").
var recognizedKeys = map[string]bool{
	"LocalDir": true, "RemoteDir": true,
	"RemoteHost": true, "RemoteUser": true, "Port": true,
	"StorageLimit": true, "SyncInterval": true, "SshfsOptions": true,
	"TrashDirs": true, "PriorityHalfLife": true,
	"UseTrash": true, "DisableTrash": true,
	"InflatePriority": true, "AccountForSize": true,
	"TrashCleanupPeriod": true,
}

// ParseProfile parses the literal Key=Value config format described in
// spec §6: one assignment per line, '#'-prefixed comment lines, trailing
// whitespace trimmed, unknown keys rejected outright.
func ParseProfile(r io.Reader) (Profile, error) {
	p := defaultProfile()

	scanner := bufio.NewScanner(r)

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimRight(scanner.Text(), " \t")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			return Profile{}, fmt.Errorf("config line %d: missing '=': %q", lineNo, line)
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if !recognizedKeys[key] {
			return Profile{}, fmt.Errorf("config line %d: unknown key %q", lineNo, key)
		}

		if err := applyKey(&p, key, value); err != nil {
			return Profile{}, fmt.Errorf("config line %d: %w", lineNo, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return Profile{}, fmt.Errorf("reading config: %w", err)
	}

	return p, nil
}

func applyKey(p *Profile, key, value string) error {
	switch key {
	case "LocalDir":
		p.LocalDir = value
	case "RemoteDir":
		p.RemoteDir = value
	case "RemoteHost":
		p.RemoteHost = value
	case "RemoteUser":
		p.RemoteUser = value
	case "Port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid Port %q: %w", value, err)
		}

		p.Port = n
	case "StorageLimit":
		n, err := humanize.ParseBytes(value)
		if err != nil {
			return fmt.Errorf("invalid StorageLimit %q: %w", value, err)
		}

		p.StorageLimit = int64(n)
	case "SyncInterval":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SyncInterval %q: %w", value, err)
		}

		p.SyncInterval = time.Duration(n) * time.Minute
	case "SshfsOptions":
		p.SshfsOptions = value
	case "TrashDirs":
		if value == "" {
			p.TrashDirs = nil
		} else {
			p.TrashDirs = strings.Split(value, ":")
		}
	case "PriorityHalfLife":
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PriorityHalfLife %q: %w", value, err)
		}

		p.PriorityHalfLife = time.Duration(n * float64(time.Hour))
	case "UseTrash":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid UseTrash %q: %w", value, err)
		}

		p.UseTrash = b
	case "DisableTrash":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid DisableTrash %q: %w", value, err)
		}

		p.UseTrash = !b
	case "InflatePriority":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid InflatePriority %q: %w", value, err)
		}

		p.InflatePriority = b
	case "AccountForSize":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid AccountForSize %q: %w", value, err)
		}

		p.AccountForSize = b
	case "TrashCleanupPeriod":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid TrashCleanupPeriod %q: %w", value, err)
		}

		p.TrashCleanupPeriod = time.Duration(n) * time.Second
	}

	return nil
}

// LoadProfile reads and parses the config file at path.
func LoadProfile(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()

	return ParseProfile(f)
}

// WriteProfile serializes p back to the literal Key=Value format, for use
// by `init` when generating a fresh config file.
func WriteProfile(path string, p Profile) error {
	var b strings.Builder

	fmt.Fprintf(&b, "LocalDir=%s\n", p.LocalDir)
	fmt.Fprintf(&b, "RemoteDir=%s\n", p.RemoteDir)

	if p.RemoteHost != "" {
		fmt.Fprintf(&b, "RemoteHost=%s\n", p.RemoteHost)
	}

	if p.RemoteUser != "" {
		fmt.Fprintf(&b, "RemoteUser=%s\n", p.RemoteUser)
	}

	fmt.Fprintf(&b, "Port=%d\n", p.Port)
	fmt.Fprintf(&b, "StorageLimit=%s\n", humanize.IBytes(uint64(p.StorageLimit)))
	fmt.Fprintf(&b, "SyncInterval=%d\n", int(p.SyncInterval.Minutes()))

	if p.SshfsOptions != "" {
		fmt.Fprintf(&b, "SshfsOptions=%s\n", p.SshfsOptions)
	}

	if len(p.TrashDirs) > 0 {
		fmt.Fprintf(&b, "TrashDirs=%s\n", strings.Join(p.TrashDirs, ":"))
	}

	fmt.Fprintf(&b, "PriorityHalfLife=%g\n", p.PriorityHalfLife.Hours())
	fmt.Fprintf(&b, "UseTrash=%t\n", p.UseTrash)
	fmt.Fprintf(&b, "InflatePriority=%t\n", p.InflatePriority)
	fmt.Fprintf(&b, "AccountForSize=%t\n", p.AccountForSize)
	fmt.Fprintf(&b, "TrashCleanupPeriod=%d\n", int(p.TrashCleanupPeriod.Seconds()))

	return os.WriteFile(path, []byte(b.String()), 0o644)
}
