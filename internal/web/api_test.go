package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"dashing/internal/bus"
	"dashing/internal/host"
	"dashing/internal/logging"
	"dashing/internal/web"
)

var fixedNow = time.Unix(1700000000, 0)

func newTestServer(t *testing.T, cfg web.Config) (*web.Server, *bus.Bus) {
	t.Helper()
	lm := logging.NewTestLogManager(100)
	t.Cleanup(func() { _ = lm.Close() })

	b := bus.New(bus.Config{}, lm)
	s := web.New(cfg, b, lm)
	s.SetClockForTest(func() time.Time { return fixedNow })
	return s, b
}

// bufferOutput collects a buffered response body.
type bufferOutput struct {
	bytes.Buffer
	closed bool
}

func (o *bufferOutput) Flush() error { return nil }
func (o *bufferOutput) Close() error { o.closed = true; return nil }

func render(t *testing.T, resp *host.Response) (int, string) {
	t.Helper()
	if resp == nil {
		t.Fatal("Handle() returned nil")
	}
	out := &bufferOutput{}
	if resp.Contents != nil {
		if err := resp.Contents(out); err != nil {
			t.Fatalf("Contents() error = %v", err)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	return status, out.String()
}

func request(method, path, body string) *host.Request {
	return host.NewRequest(context.Background(), method, path, strings.NewReader(body))
}

// recorder is a bus client that keeps every payload as JSON.
type recorder struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recorder) Write(data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.payloads = append(r.payloads, string(b))
	r.mu.Unlock()
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func TestHandlePublish(t *testing.T) {
	t.Run("broadcasts augmented payload", func(t *testing.T) {
		s, b := newTestServer(t, web.Config{})
		rec := &recorder{}
		b.Register(rec)

		status, body := render(t, s.Handle(request(http.MethodPost, "/widgets/number", `{"current":123}`)))
		if status != http.StatusOK {
			t.Errorf("status = %d, want 200", status)
		}
		if body != "" {
			t.Errorf("body = %q, want empty", body)
		}

		got := rec.got()
		want := `{"current":123,"id":"number","updatedAt":1700000000}`
		if len(got) != 1 || got[0] != want {
			t.Errorf("payloads = %v, want [%s]", got, want)
		}
	})

	t.Run("non-object payload is not augmented", func(t *testing.T) {
		s, b := newTestServer(t, web.Config{})
		rec := &recorder{}
		b.Register(rec)

		render(t, s.Handle(request(http.MethodPost, "/widgets/list", `[1,2,3]`)))
		if got := rec.got(); len(got) != 1 || got[0] != `[1,2,3]` {
			t.Errorf("payloads = %v", got)
		}
	})

	t.Run("malformed JSON is rejected", func(t *testing.T) {
		s, b := newTestServer(t, web.Config{})
		rec := &recorder{}
		b.Register(rec)

		status, body := render(t, s.Handle(request(http.MethodPost, "/widgets/number", `{"current":`)))
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", status)
		}
		var errBody map[string]string
		if err := json.Unmarshal([]byte(body), &errBody); err != nil || errBody["error"] == "" {
			t.Errorf("body = %q, want JSON error", body)
		}
		if len(rec.got()) != 0 {
			t.Error("malformed publish must not broadcast")
		}
		if len(b.History()) != 0 {
			t.Error("malformed publish must not touch history")
		}
	})

	t.Run("empty body is rejected", func(t *testing.T) {
		s, _ := newTestServer(t, web.Config{})
		status, _ := render(t, s.Handle(request(http.MethodPost, "/widgets/number", "")))
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", status)
		}
	})

	t.Run("oversized body is rejected", func(t *testing.T) {
		s, _ := newTestServer(t, web.Config{MaxBodyBytes: 8})
		status, _ := render(t, s.Handle(request(http.MethodPost, "/widgets/number", `{"current":123456}`)))
		if status != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", status)
		}
	})
}

func TestHandleHistory(t *testing.T) {
	s, _ := newTestServer(t, web.Config{})

	status, body := render(t, s.Handle(request(http.MethodGet, "/history", "")))
	if status != http.StatusOK || strings.TrimSpace(body) != "[]" {
		t.Errorf("empty history = %d %q, want 200 []", status, body)
	}

	render(t, s.Handle(request(http.MethodPost, "/widgets/a", `{"v":1}`)))
	render(t, s.Handle(request(http.MethodPost, "/widgets/b", `"text"`)))
	render(t, s.Handle(request(http.MethodPost, "/widgets/a", `{"v":2}`)))

	_, body = render(t, s.Handle(request(http.MethodGet, "/history", "")))
	want := `["text",{"v":2,"id":"a","updatedAt":1700000000}]`
	if strings.TrimSpace(body) != want {
		t.Errorf("history = %s, want %s", body, want)
	}
}

func TestRouting(t *testing.T) {
	s, _ := newTestServer(t, web.Config{DefaultDashboard: "ops"})

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"index redirects", http.MethodGet, "/", http.StatusSeeOther},
		{"health", http.MethodGet, "/api/health", http.StatusOK},
		{"stats", http.MethodGet, "/api/stats", http.StatusOK},
		{"unknown path", http.MethodGet, "/nope", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/widgets/number", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.Handle(request(tt.method, tt.path, ""))
			if resp.Status != tt.status {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, resp.Status, tt.status)
			}
		})
	}

	t.Run("redirect target", func(t *testing.T) {
		resp := s.Handle(request(http.MethodGet, "/", ""))
		if loc := resp.Headers.Get("Location"); loc != "/ops" {
			t.Errorf("Location = %q, want /ops", loc)
		}
	})

	t.Run("health body", func(t *testing.T) {
		_, body := render(t, s.Handle(request(http.MethodGet, "/api/health", "")))
		if strings.TrimSpace(body) != `{"status":"ok"}` {
			t.Errorf("body = %q", body)
		}
	})
}
