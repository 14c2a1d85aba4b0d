package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path string, e Encoder) {
	t.Helper()
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// TestWatchFileLoadsAndReloads checks that WatchFile picks up the
// initial file and then a subsequent on-disk change.
func TestWatchFileLoadsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dsv.json")

	initial := Default(testMetadata())
	writeConfig(t, path, initial)

	loads := make(chan Encoder, 4)
	w, err := WatchFile(path, func(e Encoder) { loads <- e })
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Close()

	select {
	case e := <-loads:
		if e.Metadata.Width != initial.Metadata.Width {
			t.Errorf("initial load: got width %d, want %d", e.Metadata.Width, initial.Metadata.Width)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial load")
	}

	changed := Default(testMetadata())
	changed.GOP = 48
	writeConfig(t, path, changed)

	select {
	case e := <-loads:
		if e.GOP != 48 {
			t.Errorf("reload: got GOP %d, want 48", e.GOP)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if w.Current().GOP != 48 {
		t.Errorf("Current(): got GOP %d, want 48", w.Current().GOP)
	}
}

// TestWatchFileRejectsInvalidReload checks that a malformed on-disk
// write is discarded, keeping the previously loaded configuration.
func TestWatchFileRejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dsv.json")

	good := Default(testMetadata())
	writeConfig(t, path, good)

	loads := make(chan Encoder, 4)
	w, err := WatchFile(path, func(e Encoder) { loads <- e })
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Close()

	<-loads // initial load

	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-loads:
		t.Fatal("onLoad should not fire for a malformed reload")
	case <-time.After(300 * time.Millisecond):
	}

	if w.Current().Metadata.Width != good.Metadata.Width {
		t.Errorf("Current() should keep the last good config, got width %d", w.Current().Metadata.Width)
	}
}
