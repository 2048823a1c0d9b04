package lockregistry

import (
	"encoding/json"
	"fmt"
	"os"
)

// lockOwner is the small JSON payload written into a held lock file so
// a contending launch can report who holds it.
type lockOwner struct {
	PID       int    `json:"pid"`
	SessionID string `json:"session_id"`
}

func readOwner(f *os.File) (lockOwner, error) {
	var owner lockOwner
	if _, err := f.Seek(0, 0); err != nil {
		return owner, err
	}
	dec := json.NewDecoder(f)
	if err := dec.Decode(&owner); err != nil {
		return owner, fmt.Errorf("lockregistry: decoding lock owner: %w", err)
	}
	return owner, nil
}

func writeOwner(f *os.File, owner lockOwner) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("lockregistry: encoding lock owner: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("lockregistry: truncating lock file: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("lockregistry: writing lock owner: %w", err)
	}
	return nil
}
