// pattern: Imperative Shell
package instance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

const (
	lockFileName = "dashing.lock"
	urlFileName  = "dashing.url"
)

// Lock acquires an exclusive file lock for single-instance enforcement.
// Returns the flock handle (caller must defer Cleanup) or an error if
// another instance already holds the lock.
func Lock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	lockPath := filepath.Join(dataDir, lockFileName)
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another dashing instance is already running")
	}
	return fl, nil
}

// WriteURL records the base URL the server is reachable at, without a
// trailing slash.
func WriteURL(dataDir, baseURL string) error {
	urlPath := filepath.Join(dataDir, urlFileName)
	return os.WriteFile(urlPath, []byte(strings.TrimSuffix(baseURL, "/")), 0600)
}

// Cleanup removes the URL file and releases the file lock.
func Cleanup(dataDir string, fl *flock.Flock) {
	urlPath := filepath.Join(dataDir, urlFileName)
	_ = os.Remove(urlPath)
	if fl != nil {
		_ = fl.Unlock()
	}
}

// RemoveStale deletes the URL and lock files left behind by an instance that
// did not shut down cleanly. It refuses while an instance holds the lock.
func RemoveStale(dataDir string) error {
	fl := flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("a dashing instance is running; stop it first")
	}
	defer fl.Unlock()

	for _, name := range []string{urlFileName, lockFileName} {
		if err := os.Remove(filepath.Join(dataDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}
