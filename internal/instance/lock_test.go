package instance

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLockAndCleanup(t *testing.T) {
	dir := t.TempDir()

	// First lock should succeed
	fl, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if fl == nil {
		t.Fatal("Lock() returned nil flock")
	}

	// Second lock should fail
	_, err = Lock(dir)
	if err == nil {
		t.Fatal("second Lock() should have failed")
	}

	if err := WriteURL(dir, "http://127.0.0.1:8080/"); err != nil {
		t.Fatalf("WriteURL() failed: %v", err)
	}

	urlPath := filepath.Join(dir, urlFileName)
	data, err := os.ReadFile(urlPath)
	if err != nil {
		t.Fatalf("URL file not found: %v", err)
	}
	if string(data) != "http://127.0.0.1:8080" {
		t.Fatalf("URL file content = %q, want %q", string(data), "http://127.0.0.1:8080")
	}

	// Cleanup should remove URL file and release lock
	Cleanup(dir, fl)

	if _, err := os.Stat(urlPath); !os.IsNotExist(err) {
		t.Fatal("URL file should have been removed after Cleanup")
	}

	// Lock should be available again
	fl2, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock() after Cleanup should succeed: %v", err)
	}
	Cleanup(dir, fl2)
}

func TestLock_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	fl, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	defer Cleanup(dir, fl)

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("data dir not created: %v", err)
	}
}

func TestRemoveStale(t *testing.T) {
	dir := t.TempDir()

	fl, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if err := WriteURL(dir, "http://127.0.0.1:1"); err != nil {
		t.Fatalf("WriteURL() failed: %v", err)
	}

	if err := RemoveStale(dir); err == nil {
		t.Fatal("RemoveStale() should refuse while the lock is held")
	}

	// Simulate a crash: lock released, URL file left behind
	_ = fl.Unlock()

	if err := RemoveStale(dir); err != nil {
		t.Fatalf("RemoveStale() failed: %v", err)
	}
	for _, name := range []string{urlFileName, lockFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", name)
		}
	}

	// Nothing left to remove is not an error
	if err := RemoveStale(dir); err != nil {
		t.Errorf("second RemoveStale() failed: %v", err)
	}
}
