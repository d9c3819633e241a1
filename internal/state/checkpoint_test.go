package state

import (
	"path/filepath"
	"testing"
)

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoint.json")
	mgr := NewCheckpointManager(path)

	if cp, err := mgr.Load(); err != nil || cp != nil {
		t.Fatalf("expected no checkpoint yet, got %+v err=%v", cp, err)
	}

	want := &Checkpoint{RunID: "run-1", SourcePath: "/data/dump.rdb", BytesRead: 4096, LastKey: "user:42", KeysApplied: 10}
	if err := mgr.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.RunID != want.RunID || got.KeysApplied != want.KeysApplied || got.LastKey != want.LastKey {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if got.Version != 1 {
		t.Errorf("expected version defaulted to 1, got %d", got.Version)
	}
}

func TestCheckpointDeleteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	mgr := NewCheckpointManager(path)

	if err := mgr.Delete(); err != nil {
		t.Fatalf("Delete on missing file should not error: %v", err)
	}

	if err := mgr.Save(&Checkpoint{RunID: "r"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mgr.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if cp, err := mgr.Load(); err != nil || cp != nil {
		t.Fatalf("expected checkpoint gone after Delete, got %+v err=%v", cp, err)
	}
}
