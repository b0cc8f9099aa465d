// pattern: Imperative Shell
package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const healthTimeout = 2 * time.Second

var (
	// ErrNotRunning means no server holds the data dir lock.
	ErrNotRunning = errors.New("no running dashing instance found (start dashing first)")
	// ErrStale means the lock is held but the recorded URL does not answer.
	ErrStale = errors.New("dashing instance not reachable (try 'dashing cleanup')")
)

// Discover returns the base URL of the server running on dataDir, without a
// trailing slash. A server bound to every interface is reported on loopback.
func Discover(dataDir string) (string, error) {
	fl := flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return "", fmt.Errorf("failed to check lock: %w", err)
	}
	if locked {
		_ = fl.Unlock()
		return "", ErrNotRunning
	}

	data, err := os.ReadFile(filepath.Join(dataDir, urlFileName))
	if err != nil {
		return "", fmt.Errorf("%w: URL file: %v", ErrStale, err)
	}
	baseURL, err := dialableURL(strings.TrimSpace(string(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStale, err)
	}

	if err := checkHealth(baseURL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStale, err)
	}
	return baseURL, nil
}

func dialableURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("URL file is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && ip.IsUnspecified() {
		loopback := "127.0.0.1"
		if ip.To4() == nil {
			loopback = "::1"
		}
		u.Host = net.JoinHostPort(loopback, u.Port())
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

func checkHealth(baseURL string) error {
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "ok" {
		return fmt.Errorf("unexpected health response from %s", baseURL)
	}
	return nil
}
