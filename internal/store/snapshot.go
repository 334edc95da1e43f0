package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const snapshotVersion = 1

type snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	State
}

// Marshal serializes the whole store for cold-start rehydration.
func Marshal(s State) ([]byte, error) {
	return json.MarshalIndent(snapshot{Version: snapshotVersion, SavedAt: time.Now().UTC(), State: s}, "", "  ")
}

// Decode parses a snapshot and reports why it could not be used.
func Decode(b []byte) (State, error) {
	if len(b) == 0 {
		return Empty(), errors.New("empty snapshot")
	}
	var sn snapshot
	if err := json.Unmarshal(b, &sn); err != nil {
		return Empty(), fmt.Errorf("parse snapshot: %w", err)
	}
	if sn.Version != snapshotVersion {
		return Empty(), fmt.Errorf("unsupported snapshot version %d", sn.Version)
	}
	return sn.State, nil
}

// Restore rebuilds a State from a snapshot. Missing or malformed input yields
// the empty state.
func Restore(b []byte) State {
	s, err := Decode(b)
	if err != nil {
		return Empty()
	}
	return s
}

// LoadFile reads the snapshot at path. A missing file is not an error.
func LoadFile(path string) (State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Empty(), nil
		}
		return Empty(), err
	}
	return Restore(b), nil
}

// SaveFile writes the snapshot atomically with owner-only permissions.
func SaveFile(path string, s State) error {
	b, err := Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
