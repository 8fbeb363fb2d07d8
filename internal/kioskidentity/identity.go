// Package kioskidentity persists the kiosk's own provisioned identity
// (kiosk id, hardware id, registration secret) to a local JSON file so a
// restarted kiosk process reuses its registration instead of enrolling
// again, mirroring the atomic-write idiom internal/config uses for its
// own document (spec §4.11).
package kioskidentity

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Identity is what a kiosk process needs to authenticate against the
// gateway after its one-time registration.
type Identity struct {
	KioskID    string `json:"kiosk_id"`
	HardwareID string `json:"hardware_id"`
	Secret     string `json:"registration_secret"`
	Zone       string `json:"zone,omitempty"`
}

// Load reads a previously persisted identity from path. A missing file
// is not an error — it signals the kiosk has not yet registered.
func Load(path string) (Identity, bool, error) {
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, err
	}
	var id Identity
	if err := json.Unmarshal(body, &id); err != nil {
		return Identity{}, false, err
	}
	return id, true, nil
}

// Save writes id to path atomically.
func Save(path string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	body, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, body, 0o640)
}
