package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSignedSnapshotMissing(t *testing.T) {
	ss, err := LoadSignedSnapshot(t.TempDir())
	if err != nil || ss != nil {
		t.Errorf("Expected nil snapshot without error, got %v, %v", ss, err)
	}
}

func TestSaveAndLoadSignedSnapshot(t *testing.T) {
	node := newPopulatedNode(t)
	dir := filepath.Join(t.TempDir(), "nested", "data")

	ss, err := node.SignSnapshot(node.Engine.Snapshot())
	if err != nil {
		t.Fatalf("SignSnapshot failed: %v", err)
	}
	if err := SaveSignedSnapshot(dir, ss); err != nil {
		t.Fatalf("SaveSignedSnapshot failed: %v", err)
	}

	loaded, err := LoadSignedSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSignedSnapshot failed: %v", err)
	}
	if len(loaded.State.Participants) != len(ss.State.Participants) {
		t.Errorf("Expected %d participants, got %d", len(ss.State.Participants), len(loaded.State.Participants))
	}
	if err := VerifySnapshot(loaded, node.GetPublicKeyHex()); err != nil {
		t.Errorf("Expected loaded snapshot to verify, got %v", err)
	}

	// No temp files are left behind by the atomic write.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != stateFilename {
		t.Errorf("Expected only %s in data dir, got %v", stateFilename, entries)
	}
}

func TestLoadSignedSnapshotCorrupt(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, stateFilename), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSignedSnapshot(dir); err == nil {
		t.Error("Expected error for corrupt snapshot file")
	}

	if err := os.WriteFile(filepath.Join(dir, stateFilename), []byte(`{"attestation":{}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSignedSnapshot(dir); err == nil {
		t.Error("Expected error for snapshot without state")
	}
}

func TestLoadOrCreateNodeKey(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateNodeKey(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateNodeKey failed: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, nodeKeyFilename))
	if err != nil {
		t.Fatalf("Expected key file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected key file mode 0600, got %v", info.Mode().Perm())
	}

	second, err := LoadOrCreateNodeKey(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateNodeKey reload failed: %v", err)
	}
	if !first.Equal(second) {
		t.Error("Expected the same key after reload")
	}

	ephemeral, err := LoadOrCreateNodeKey("")
	if err != nil || ephemeral == nil {
		t.Errorf("Expected ephemeral key, got %v", err)
	}
}

func TestLoadOrCreateNodeKeyRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, nodeKeyFilename), []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateNodeKey(dir); err == nil {
		t.Error("Expected error for a key file that is not PEM")
	}
}
