package host

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestRelativePath(t *testing.T) {
	tests := []struct {
		base, path string
		want       string
		ok         bool
	}{
		{"", "/", "/", true},
		{"", "", "/", true},
		{"", "/widgets/a", "/widgets/a", true},
		{"/dash", "/dash", "/", true},
		{"/dash", "/dash/", "/", true},
		{"/dash", "/Dash/events", "/events", true},
		{"/dash", "/dashboard", "", false},
		{"/dash", "/", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.base+"|"+tt.path, func(t *testing.T) {
			got, ok := relativePath(tt.base, tt.path)
			if got != tt.want || ok != tt.ok {
				t.Errorf("relativePath(%q, %q) = %q, %v; want %q, %v", tt.base, tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestExpectedLength(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   int64
	}{
		{"missing", nil, 0},
		{"valid", []string{"42"}, 42},
		{"repeated", []string{"7", "7"}, 7},
		{"conflicting", []string{"7", "8"}, 0},
		{"garbage", []string{"lots"}, 0},
		{"negative", []string{"-1"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := map[string][]string{}
			if tt.values != nil {
				h["Content-Length"] = tt.values
			}
			if got := expectedLength(h); got != tt.want {
				t.Errorf("expectedLength() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTranslateRequest(t *testing.T) {
	base, _ := url.Parse("http://localhost:1234/")

	t.Run("body bounded by content length", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "http://localhost:1234/widgets/n", strings.NewReader(`{"a":1}trailing`))
		r.Header.Set("Content-Length", "7")
		r.Header.Set("X-Custom", "yes")

		req, err := translateRequest(base, r, "c1")
		if err != nil {
			t.Fatalf("translateRequest() error = %v", err)
		}
		body, _ := io.ReadAll(req.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("body = %q", body)
		}
		if req.Header("x-custom") != "yes" {
			t.Errorf("Header(x-custom) = %q", req.Header("x-custom"))
		}
		if req.URL.HostName != "localhost" || req.URL.Port != 1234 {
			t.Errorf("host = %q:%d", req.URL.HostName, req.URL.Port)
		}
		if req.ConnID != "c1" {
			t.Errorf("ConnID = %q", req.ConnID)
		}
	})

	t.Run("no content length means empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "http://localhost:1234/widgets/n", strings.NewReader(`{"a":1}`))
		r.Header.Del("Content-Length")

		req, err := translateRequest(base, r, "")
		if err != nil {
			t.Fatalf("translateRequest() error = %v", err)
		}
		body, _ := io.ReadAll(req.Body)
		if len(body) != 0 {
			t.Errorf("body = %q, want empty", body)
		}
	})

	t.Run("default port is dropped", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "http://example.com:80/", nil)
		req, err := translateRequest(base, r, "")
		if err != nil {
			t.Fatalf("translateRequest() error = %v", err)
		}
		if req.URL.Port != 0 {
			t.Errorf("Port = %d, want 0", req.URL.Port)
		}
		if req.URL.String() != "http://example.com/" {
			t.Errorf("String() = %q", req.URL.String())
		}
	})

	t.Run("outside base path", func(t *testing.T) {
		sub, _ := url.Parse("http://localhost:1234/dash/")
		r := httptest.NewRequest(http.MethodGet, "http://localhost:1234/other", nil)
		_, err := translateRequest(sub, r, "")
		var te *TranslationError
		if !errors.As(err, &te) || te.Status != http.StatusNotFound {
			t.Errorf("error = %v, want 404 TranslationError", err)
		}
	})
}

func TestNewRequest(t *testing.T) {
	req := NewRequest(context.Background(), http.MethodGet, "/events", nil)
	if req.Context() == nil {
		t.Fatal("Context() is nil")
	}
	body, _ := io.ReadAll(req.Body)
	if len(body) != 0 {
		t.Errorf("body = %q", body)
	}
	if req.Param("id") != "" {
		t.Error("unexpected param")
	}
}
