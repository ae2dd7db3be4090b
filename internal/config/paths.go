// Package config implements profile configuration: the literal Key=Value
// file format (spec §6), XDG-compliant path resolution, and the
// info.json/exclude-file companions of a profile directory.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// appName names the product directory under XDG/Application Support roots.
const appName = "zielen"

// DefaultConfigDir returns the platform-specific root directory holding
// every profile's configuration (grounded on the teacher's
// internal/config/paths.go XDG resolution, generalized from a single
// config file to a profiles/ tree per spec §6).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxXDGDir(home, "XDG_CONFIG_HOME", ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific root for runtime state that
// is not strictly configuration (reserved for callers that want to
// separate databases from config; the spec's persisted-state layout keeps
// everything under the config profile directory, so this is primarily
// useful for cache-like artifacts).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxXDGDir(home, "XDG_DATA_HOME", filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func linuxXDGDir(home, envVar, fallback string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// ProfileDir returns the directory for a named profile under the config
// root: $XDG_CONFIG_HOME/zielen/profiles/<name>/.
func ProfileDir(name string) string {
	return filepath.Join(DefaultConfigDir(), "profiles", name)
}

// ProfilesRoot returns the directory containing every profile directory.
func ProfilesRoot() string {
	return filepath.Join(DefaultConfigDir(), "profiles")
}

// ConfigFilePath, ExcludeFilePath, InfoFilePath, LocalDBPath, and MountDir
// are the fixed filenames within a profile directory (spec §6 persisted
// state layout).
func ConfigFilePath(profileDir string) string  { return filepath.Join(profileDir, "config") }
func ExcludeFilePath(profileDir string) string { return filepath.Join(profileDir, "exclude") }
func InfoFilePath(profileDir string) string    { return filepath.Join(profileDir, "info.json") }
func LocalDBPath(profileDir string) string     { return filepath.Join(profileDir, "local.db") }
func MountDir(profileDir string) string        { return filepath.Join(profileDir, "mnt") }

// Remote-side layout, rooted at the profile's RemoteDir (as seen through
// the mount).
const remoteStateDirName = ".zielen"

func RemoteStateDir(remoteDir string) string     { return filepath.Join(remoteDir, remoteStateDirName) }
func RemoteDBPath(remoteDir string) string        { return filepath.Join(RemoteStateDir(remoteDir), "remote.db") }
func RemoteExcludeDir(remoteDir string) string    { return filepath.Join(RemoteStateDir(remoteDir), "exclude") }
func RemoteTrashDir(remoteDir string) string      { return filepath.Join(RemoteStateDir(remoteDir), "Trash") }
func RemoteExcludeFile(remoteDir, uuid string) string {
	return filepath.Join(RemoteExcludeDir(remoteDir), uuid)
}
