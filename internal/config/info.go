package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Status is the profile lifecycle state (spec §3 Lifecycle).
type Status string

const (
	StatusPartial     Status = "partial"
	StatusInitialized Status = "initialized"
)

// InitOpts records the options an `init` invocation was given, so an
// interrupted initialization can resume without re-prompting (spec §4.14
// failure semantics).
type InitOpts struct {
	AddRemote bool `json:"add_remote"`
}

// Info is the profile's info.json contents (spec §6 persisted state
// layout, §3 Profile metadata).
type Info struct {
	Status     Status    `json:"status"`
	LastSync   time.Time `json:"last_sync"`
	LastAdjust time.Time `json:"last_adjust"`
	Version    string    `json:"version"`
	ID         string    `json:"id"`
	InitOpts   InitOpts  `json:"init_opts"`
}

// NewInfo returns a fresh info.json payload for a profile being created,
// in the partial status (spec §3 Lifecycle: "A profile is created in
// partial state").
func NewInfo(version string, opts InitOpts) Info {
	return Info{
		Status:   StatusPartial,
		Version:  version,
		ID:       uuid.NewString(),
		InitOpts: opts,
	}
}

// infoWireFormat mirrors Info but with ISO-8601 string timestamps, matching
// the Python source's strftime/strptime convention referenced in spec §3.
type infoWireFormat struct {
	Status     Status   `json:"status"`
	LastSync   string   `json:"last_sync"`
	LastAdjust string   `json:"last_adjust"`
	Version    string   `json:"version"`
	ID         string   `json:"id"`
	InitOpts   InitOpts `json:"init_opts"`
}

const iso8601 = time.RFC3339

func (i Info) MarshalJSON() ([]byte, error) {
	w := infoWireFormat{
		Status:   i.Status,
		Version:  i.Version,
		ID:       i.ID,
		InitOpts: i.InitOpts,
	}

	if !i.LastSync.IsZero() {
		w.LastSync = i.LastSync.UTC().Format(iso8601)
	}

	if !i.LastAdjust.IsZero() {
		w.LastAdjust = i.LastAdjust.UTC().Format(iso8601)
	}

	return json.Marshal(w)
}

func (i *Info) UnmarshalJSON(data []byte) error {
	var w infoWireFormat
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	i.Status = w.Status
	i.Version = w.Version
	i.ID = w.ID
	i.InitOpts = w.InitOpts

	if w.LastSync != "" {
		t, err := time.Parse(iso8601, w.LastSync)
		if err != nil {
			return fmt.Errorf("parsing last_sync: %w", err)
		}

		i.LastSync = t
	}

	if w.LastAdjust != "" {
		t, err := time.Parse(iso8601, w.LastAdjust)
		if err != nil {
			return fmt.Errorf("parsing last_adjust: %w", err)
		}

		i.LastAdjust = t
	}

	return nil
}

// LoadInfo reads and parses the info.json at path.
func LoadInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var i Info
	if err := json.Unmarshal(data, &i); err != nil {
		return Info{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	return i, nil
}

// SaveInfo writes i to path as pretty-printed JSON.
func SaveInfo(path string, i Info) error {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding info: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}
