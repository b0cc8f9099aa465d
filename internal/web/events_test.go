package web

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"dashing/internal/bus"
	"dashing/internal/host"
	"dashing/internal/logging"
	"dashing/internal/value"
)

type memOutput struct {
	bytes.Buffer
	closed bool
}

func (o *memOutput) Flush() error { return nil }
func (o *memOutput) Close() error { o.closed = true; return nil }

func newEventsServer(t *testing.T, cfg Config) (*Server, *bus.Bus) {
	t.Helper()
	lm := logging.NewTestLogManager(100)
	t.Cleanup(func() { _ = lm.Close() })
	b := bus.New(bus.Config{}, lm)
	return New(cfg, b, lm), b
}

func TestHandleEvents_OpenFrameAndRegistration(t *testing.T) {
	s, b := newEventsServer(t, Config{})

	resp := s.Handle(host.NewRequest(context.Background(), http.MethodGet, "/events", nil))
	if resp.Kind != host.Streaming {
		t.Fatalf("Kind = %v, want streaming", resp.Kind)
	}
	if resp.ContentType != "text/event-stream" {
		t.Errorf("ContentType = %q", resp.ContentType)
	}

	out := &memOutput{}
	if err := resp.Contents(out); err != nil {
		t.Fatalf("Contents() error = %v", err)
	}
	if got, want := out.String(), "data: {\"id\":\"Open\",\"data\":\"Open\"}\n\n"; got != want {
		t.Errorf("first frame = %q, want %q", got, want)
	}
	if b.Len() != 1 {
		t.Fatalf("bus clients = %d, want 1", b.Len())
	}

	b.Broadcast(bus.Event{ID: "n", UpdatedAt: time.Unix(5, 0), Data: value.IntValue(7)})
	if got := out.String(); !strings.HasSuffix(got, "data: 7\n\n") {
		t.Errorf("stream = %q, want broadcast frame", got)
	}

	resp.OnClose()
	if b.Len() != 0 {
		t.Errorf("bus clients after close = %d, want 0", b.Len())
	}
	if !out.closed {
		t.Error("output not closed by OnClose")
	}
}

func TestHandleEvents_ReplayHistory(t *testing.T) {
	s, b := newEventsServer(t, Config{ReplayHistory: true})
	b.Broadcast(bus.Event{ID: "a", UpdatedAt: time.Unix(1, 0), Data: value.StringValue("x")})
	b.Broadcast(bus.Event{ID: "b", UpdatedAt: time.Unix(2, 0), Data: value.StringValue("y")})

	resp := s.Handle(host.NewRequest(context.Background(), http.MethodGet, "/events", nil))
	out := &memOutput{}
	if err := resp.Contents(out); err != nil {
		t.Fatalf("Contents() error = %v", err)
	}
	defer resp.OnClose()

	want := "data: {\"id\":\"Open\",\"data\":\"Open\"}\n\n" +
		"data: \"x\"\n\n" +
		"data: \"y\"\n\n"
	if out.String() != want {
		t.Errorf("stream = %q, want %q", out.String(), want)
	}
}

func TestHandleEvents_EvictionClosesOutput(t *testing.T) {
	s, b := newEventsServer(t, Config{})

	resp := s.Handle(host.NewRequest(context.Background(), http.MethodGet, "/events", nil))
	out := &failingOutput{}
	if err := resp.Contents(out); err != nil {
		t.Fatalf("Contents() error = %v", err)
	}
	out.fail = true

	b.Broadcast(bus.Event{ID: "n", UpdatedAt: time.Unix(5, 0), Data: value.IntValue(1)})
	if b.Len() != 0 {
		t.Errorf("failing subscriber still registered")
	}
	if !out.closed {
		t.Error("evicted subscriber's output not closed")
	}
	resp.OnClose()
}

type failingOutput struct {
	memOutput
	fail bool
}

func (o *failingOutput) Write(p []byte) (int, error) {
	if o.fail {
		return 0, host.ErrOutputClosed
	}
	return o.memOutput.Write(p)
}

func TestPublish_DeeplyNestedBodyKeepsSubscribers(t *testing.T) {
	s, b := newEventsServer(t, Config{ReplayHistory: true})

	var outs []*memOutput
	for range 3 {
		resp := s.Handle(host.NewRequest(context.Background(), http.MethodGet, "/events", nil))
		out := &memOutput{}
		if err := resp.Contents(out); err != nil {
			t.Fatalf("Contents() error = %v", err)
		}
		defer resp.OnClose()
		outs = append(outs, out)
	}

	depth := 20000
	body := `{"v":` + strings.Repeat("[", depth) + strings.Repeat("]", depth) + `}`
	resp := s.Handle(host.NewRequest(context.Background(), http.MethodPost, "/widgets/deep", strings.NewReader(body)))
	if resp.Status != http.StatusBadRequest {
		t.Fatalf("publish status = %d, want 400", resp.Status)
	}

	if b.Len() != 3 {
		t.Errorf("clients = %d, want 3", b.Len())
	}
	for i, out := range outs {
		if out.closed {
			t.Errorf("subscriber %d closed", i)
		}
	}

	// The rejected event leaves history and replay usable
	hist := s.Handle(host.NewRequest(context.Background(), http.MethodGet, "/history", nil))
	var buf memOutput
	if err := hist.Contents(&buf); err != nil {
		t.Fatalf("history Contents() error = %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("history = %s, want []", got)
	}

	late := s.Handle(host.NewRequest(context.Background(), http.MethodGet, "/events", nil))
	if err := late.Contents(&memOutput{}); err != nil {
		t.Fatalf("late subscriber Contents() error = %v", err)
	}
	defer late.OnClose()
	if b.Len() != 4 {
		t.Errorf("clients after late subscribe = %d, want 4", b.Len())
	}
}
