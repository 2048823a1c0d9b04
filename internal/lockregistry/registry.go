package lockregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SessionEntry is one live session's registry record, grounded on the
// teacher's mcppacks/toolpacks on-disk JSON state idiom
// (internal/mcppacks.StateFile).
type SessionEntry struct {
	SessionID string `json:"session_id"`
	Workspace string `json:"workspace"`
	PID       int    `json:"pid"`
	StartedAt string `json:"started_at"` // RFC3339, caller-supplied
}

// registryPath returns the path to the shared session registry file,
// living alongside the per-workspace lock files.
func registryPath() string {
	return filepath.Join(BaseDir(), "sessions.json")
}

// Registry is the full set of sessions currently tracked.
type Registry struct {
	Sessions []SessionEntry `json:"sessions"`
}

// Load reads the registry, returning an empty Registry if the file
// does not yet exist.
func Load() (*Registry, error) {
	data, err := os.ReadFile(registryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, fmt.Errorf("lockregistry: reading session registry: %w", err)
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("lockregistry: parsing session registry: %w", err)
	}
	return &reg, nil
}

// save writes the registry back to disk.
func (r *Registry) save() error {
	if err := os.MkdirAll(BaseDir(), 0o700); err != nil {
		return fmt.Errorf("lockregistry: creating registry directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("lockregistry: encoding session registry: %w", err)
	}
	return os.WriteFile(registryPath(), data, 0o600)
}

// Add appends or replaces a session entry (matched by SessionID) and
// persists the registry.
func (r *Registry) Add(entry SessionEntry) error {
	for i, existing := range r.Sessions {
		if existing.SessionID == entry.SessionID {
			r.Sessions[i] = entry
			return r.save()
		}
	}
	r.Sessions = append(r.Sessions, entry)
	return r.save()
}

// Remove deletes a session entry by ID and persists the registry.
// Removing an unknown session_id is a no-op, matching the idempotency
// spec.md §4.5 requires of teardown.
func (r *Registry) Remove(sessionID string) error {
	out := r.Sessions[:0]
	for _, existing := range r.Sessions {
		if existing.SessionID != sessionID {
			out = append(out, existing)
		}
	}
	r.Sessions = out
	return r.save()
}

// ReapOrphans removes entries whose owning process is no longer alive
// and returns the reaped entries, so a crash-recovery pass can also
// remove their containers by the aifo.session=<id> label.
func (r *Registry) ReapOrphans() ([]SessionEntry, error) {
	var live, orphaned []SessionEntry
	for _, entry := range r.Sessions {
		if processAlive(entry.PID) {
			live = append(live, entry)
		} else {
			orphaned = append(orphaned, entry)
		}
	}
	if len(orphaned) == 0 {
		return nil, nil
	}
	r.Sessions = live
	if err := r.save(); err != nil {
		return nil, err
	}
	return orphaned, nil
}

// Clear removes the registry file entirely, used by cache-clear.
func Clear() error {
	err := os.Remove(registryPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockregistry: clearing session registry: %w", err)
	}
	return nil
}
