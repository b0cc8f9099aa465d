package instance

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDiscover_NoInstance(t *testing.T) {
	dir := t.TempDir()

	_, err := Discover(dir)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Discover() error = %v, want ErrNotRunning", err)
	}
}

func TestDiscover_WithInstance(t *testing.T) {
	dir := t.TempDir()

	// Simulate a running instance: hold the lock + write URL file + serve health
	fl, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	defer Cleanup(dir, fl)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if err := WriteURL(dir, srv.URL+"/"); err != nil {
		t.Fatalf("WriteURL() failed: %v", err)
	}

	baseURL, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if baseURL != srv.URL {
		t.Fatalf("Discover() = %q, want %q", baseURL, srv.URL)
	}
}

func TestDiscover_StaleURLFile(t *testing.T) {
	dir := t.TempDir()

	// Hold the lock but point the URL file at a dead server
	fl, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	defer Cleanup(dir, fl)

	if err := WriteURL(dir, "http://127.0.0.1:1"); err != nil {
		t.Fatalf("WriteURL() failed: %v", err)
	}

	_, err = Discover(dir)
	if !errors.Is(err, ErrStale) {
		t.Fatalf("Discover() error = %v, want ErrStale", err)
	}
}

func TestDiscover_MissingURLFile(t *testing.T) {
	dir := t.TempDir()

	fl, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	defer Cleanup(dir, fl)

	if _, err := Discover(dir); !errors.Is(err, ErrStale) {
		t.Fatalf("Discover() error = %v, want ErrStale", err)
	}
}

func TestDiscover_WrongHealthBody(t *testing.T) {
	dir := t.TempDir()
	fl, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	defer Cleanup(dir, fl)

	// Something else answers on the recorded port
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()
	if err := WriteURL(dir, srv.URL); err != nil {
		t.Fatalf("WriteURL() failed: %v", err)
	}

	if _, err := Discover(dir); !errors.Is(err, ErrStale) {
		t.Fatalf("Discover() error = %v, want ErrStale", err)
	}
}

func TestDialableURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://127.0.0.1:1234/", "http://127.0.0.1:1234"},
		{"http://0.0.0.0:1234/", "http://127.0.0.1:1234"},
		{"http://[::]:1234/dash/", "http://[::1]:1234/dash"},
		{"http://localhost:1234", "http://localhost:1234"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dialableURL(tt.in)
			if err != nil {
				t.Fatalf("dialableURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("dialableURL() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := dialableURL(""); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("dialableURL(\"\") error = %v", err)
	}
}
