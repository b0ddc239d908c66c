package appstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStateFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "state.json")
	sf, err := NewStateFile(path)
	if err != nil {
		t.Fatalf("NewStateFile() error = %v", err)
	}
	if sf.LastDeviceAddress() != "" {
		t.Errorf("fresh state has device %q", sf.LastDeviceAddress())
	}

	at := time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)
	if err := sf.SetLastDevice("AA:BB:CC:DD:EE:FF", "AIZO RING", at); err != nil {
		t.Fatalf("SetLastDevice() error = %v", err)
	}
	if err := sf.SetLastSession("abc"); err != nil {
		t.Fatalf("SetLastSession() error = %v", err)
	}

	reloaded, err := NewStateFile(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	st := reloaded.State()
	if st.LastDeviceAddress != "AA:BB:CC:DD:EE:FF" || st.LastDeviceName != "AIZO RING" || st.LastSessionID != "abc" {
		t.Errorf("State() = %+v", st)
	}
	if !st.LastConnectedAt.Equal(at) {
		t.Errorf("LastConnectedAt = %v, want %v", st.LastConnectedAt, at)
	}
}

func TestStateFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStateFile(path); err == nil {
		t.Error("NewStateFile() should fail on a corrupt file")
	}
}
