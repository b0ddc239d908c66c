// Package appstate keeps the small JSON state file the CLI carries between
// runs: the last ring it talked to and its most recent measurement.
package appstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AppState represents the persistent application state.
type AppState struct {
	LastDeviceAddress string    `json:"last_device_address,omitempty"`
	LastDeviceName    string    `json:"last_device_name,omitempty"`
	LastConnectedAt   time.Time `json:"last_connected_at,omitempty"`
	LastSessionID     string    `json:"last_session_id,omitempty"`
}

// StateFile manages the application state file.
type StateFile struct {
	path  string
	state AppState
}

// DefaultStatePath returns the default state file path.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "wakering", "state.json"), nil
}

// NewStateFile creates a state file manager, loading existing state if the
// file is present.
func NewStateFile(path string) (*StateFile, error) {
	sf := &StateFile{path: path}
	if err := sf.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return sf, nil
}

// NewDefaultStateFile creates a state file manager with the default path.
func NewDefaultStateFile() (*StateFile, error) {
	path, err := DefaultStatePath()
	if err != nil {
		return nil, err
	}
	return NewStateFile(path)
}

// Load loads the state from disk.
func (sf *StateFile) Load() error {
	data, err := os.ReadFile(sf.path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &sf.state); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", sf.path, err)
	}
	return nil
}

// Save saves the state to disk, creating the directory if needed.
func (sf *StateFile) Save() error {
	if err := os.MkdirAll(filepath.Dir(sf.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(sf.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(sf.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// State returns the current state.
func (sf *StateFile) State() AppState {
	return sf.state
}

// SetLastDevice records the ring that was just connected.
func (sf *StateFile) SetLastDevice(address, name string, at time.Time) error {
	sf.state.LastDeviceAddress = address
	sf.state.LastDeviceName = name
	sf.state.LastConnectedAt = at
	return sf.Save()
}

// SetLastSession records the most recent measurement session.
func (sf *StateFile) SetLastSession(sessionID string) error {
	sf.state.LastSessionID = sessionID
	return sf.Save()
}

// LastDeviceAddress returns the last connected ring's address.
func (sf *StateFile) LastDeviceAddress() string {
	return sf.state.LastDeviceAddress
}
