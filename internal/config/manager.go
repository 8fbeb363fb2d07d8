package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/renameio/v2"

	"github.com/lockergrid/core/internal/log"
)

var validate = validator.New()

// Manager owns the single in-memory Configuration Document and the file it
// is persisted to. It is constructed once per process at the composition
// root and passed down explicitly; nothing reaches it through a mutable
// global lookup (spec §9, "Singleton state").
type Manager struct {
	mu   sync.RWMutex
	path string
	doc  Document
	hash string
}

// NewManager loads path, or seeds an empty-but-valid document if the file
// does not yet exist, and returns a ready-to-use Manager.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.doc = Document{Features: Features{ZonesEnabled: true}}
		if err := m.commit(m.doc); err != nil {
			return nil, fmt.Errorf("config: seed default document: %w", err)
		}
		if err := m.persist(); err != nil {
			return nil, fmt.Errorf("config: persist seed document: %w", err)
		}
		return m, nil
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns a deep copy of the current document, safe for the caller to
// read without holding any lock.
func (m *Manager) Get() Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Clone()
}

// Hash returns the current config_hash, folding ConfigVersion and document
// contents. Kiosks compare this on every heartbeat to detect drift.
func (m *Manager) Hash() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hash
}

// Reload re-reads the document from disk, validating and normalizing it.
// On failure the in-memory document is left untouched (spec §7,
// "Configuration invalid: current config preserved").
func (m *Manager) Reload() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", m.path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", m.path, err)
	}
	if err := m.commit(doc); err != nil {
		log.L().Error().Err(err).Str("path", m.path).Msg("config reload rejected, keeping previous document")
		return err
	}
	return nil
}

// Update applies mutate to a clone of the current document, runs it
// through normalization, zone auto-extension detection, rebalancing, and
// validation, and only commits and persists the result if every step
// succeeds. On any failure the live document is untouched.
func (m *Manager) Update(mutate func(*Document) error) (Document, error) {
	m.mu.Lock()
	prev := m.doc.Clone()
	m.mu.Unlock()

	next := prev.Clone()
	if err := mutate(&next); err != nil {
		return Document{}, err
	}

	if err := applyAutoExtension(&prev, &next); err != nil {
		return Document{}, err
	}

	if err := m.commit(next); err != nil {
		return Document{}, err
	}
	if err := m.persist(); err != nil {
		return Document{}, fmt.Errorf("config: persist update: %w", err)
	}
	return m.Get(), nil
}

// commit normalizes, rebalances, validates, and — only if every step
// succeeds — swaps it in as the live document with a bumped version and
// recomputed hash.
func (m *Manager) commit(doc Document) error {
	normalizeZones(&doc)
	if doc.Features.ZonesEnabled {
		rebalanceZones(&doc)
	}
	if err := validateHardware(doc.Hardware); err != nil {
		return err
	}
	if doc.Features.ZonesEnabled {
		if err := validateZones(doc); err != nil {
			return err
		}
	}
	if err := validate.Struct(struct {
		Hardware Hardware `validate:"dive"`
	}{doc.Hardware}); err != nil {
		return fmt.Errorf("config: schema validation: %w", err)
	}

	m.mu.Lock()
	doc.ConfigVersion = m.doc.ConfigVersion + 1
	m.doc = doc
	m.hash = computeHash(doc)
	m.mu.Unlock()
	return nil
}

// applyAutoExtension implements spec §4.2's automatic zone extension: when
// new relay cards raise total channel capacity above the sum of all zone
// coverages, the last enabled zone absorbs the new addresses. It applies
// only once the previous document's zones already cover some locker ids;
// a first zone layout is left to rebalancing.
func applyAutoExtension(prev, next *Document) error {
	if !next.Features.ZonesEnabled {
		return nil
	}
	added := newlyAddedCapacity(prev.Hardware, next.Hardware)
	if len(added) == 0 {
		return nil
	}
	covered := sumZoneCoverage(*prev)
	if covered == 0 || next.Hardware.TotalCapacity() <= covered {
		return nil
	}
	return extendLastEnabledZone(next, added)
}

func validateHardware(hw Hardware) error {
	seen := make(map[int]bool, len(hw.RelayCards))
	for _, c := range hw.RelayCards {
		if c.SlaveAddress <= 0 || c.SlaveAddress > 247 {
			return fmt.Errorf("%w: slave_address=%d out of range", ErrInvalidRelayCard, c.SlaveAddress)
		}
		if c.Channels != 16 {
			return fmt.Errorf("%w: slave_address=%d channels=%d", ErrInvalidRelayCard, c.SlaveAddress, c.Channels)
		}
		if seen[c.SlaveAddress] {
			return fmt.Errorf("%w: duplicate slave_address=%d", ErrInvalidRelayCard, c.SlaveAddress)
		}
		seen[c.SlaveAddress] = true
	}
	return nil
}

// persist writes the current document to disk atomically (temp file in
// the same directory, then rename). No backup copy of the previous
// document is kept; the rename replaces it.
func (m *Manager) persist() error {
	m.mu.RLock()
	doc := m.doc
	m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := renameio.WriteFile(m.path, body, 0o640); err != nil {
		return fmt.Errorf("config: atomic write: %w", err)
	}
	return nil
}

func computeHash(doc Document) string {
	body, _ := json.Marshal(doc)
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
