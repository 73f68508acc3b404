package dose

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the snapshot to path atomically (write temp, rename).
func Save(path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dose state: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(path), ".dose.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write dose snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace dose snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot; a missing file yields the zero State (callers get
// defaults via NewEngine).
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("read dose snapshot: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse dose snapshot: %w", err)
	}
	return st, nil
}
