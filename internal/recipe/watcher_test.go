package recipe

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cocktails.json")
	if err := os.WriteFile(path, []byte(`{"cocktails": []}`), 0600); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	store := NewStore(path)
	if err := store.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	w, err := NewWatcher(20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close() //nolint:errcheck // Test cleanup

	var reloads atomic.Int32
	if err := w.Watch(path, func() error {
		reloads.Add(1)
		return store.Load()
	}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	w.Start()

	// Other files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0600); err != nil {
		t.Fatalf("writing other file: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"cocktails": [{"normal_name": "Gimlet", "ingredients": {"Gin": "2 oz"}}]}`), 0600); err != nil {
		t.Fatalf("rewriting file: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.Lookup("gimlet"); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store not reloaded after write (reloads=%d)", reloads.Load())
}
