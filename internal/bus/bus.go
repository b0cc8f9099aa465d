// pattern: Imperative Shell

// Package bus keeps the registry of live streaming clients and the latest
// event per id, and fans broadcasts out to every registered client.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"dashing/internal/logging"
	"dashing/internal/value"
)

// Client receives broadcast payloads. Implementations must be comparable
// (pointer types in practice) since the registry removes entries by identity.
type Client interface {
	Write(data any) error
}

// closer is implemented by clients whose stream the bus closes on eviction.
type closer interface {
	CloseStream() error
}

// pinger is implemented by clients that accept heartbeat frames.
type pinger interface {
	Ping() error
}

// idler reports when a client last received a frame.
type idler interface {
	LastWrite() time.Time
}

type identified interface {
	ID() string
}

// Event is a timestamped state update for one id.
type Event struct {
	ID        string
	UpdatedAt time.Time
	Data      value.Value
}

// Config holds the bus bounds.
type Config struct {
	MaxHistory  int           // Max distinct ids kept; 0 keeps everything
	IdleTimeout time.Duration // Evict clients with no delivered frame for this long; 0 disables
	Heartbeat   bool          // Ping clients on every Sweep
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Clients    int    `json:"clients"`
	History    int    `json:"history"`
	Broadcasts uint64 `json:"broadcasts"`
	Evicted    uint64 `json:"evicted"`
}

// Bus fans events out to registered clients. One mutex guards the registry,
// the history, and every broadcast, so all operations are serialized.
type Bus struct {
	logger *logging.ScopedLogger

	mu          sync.Mutex
	clients     []Client
	history     map[string]Event
	order       []string // ids, least recently updated first
	maxHistory  int
	idleTimeout time.Duration
	heartbeat   bool
	broadcasts  uint64
	evicted     uint64
}

// New creates a Bus. Construct one per process and pass it to handlers.
func New(cfg Config, logProvider logging.LoggerProvider) *Bus {
	return &Bus{
		logger:      logProvider.For("bus"),
		history:     make(map[string]Event),
		maxHistory:  cfg.MaxHistory,
		idleTimeout: cfg.IdleTimeout,
		heartbeat:   cfg.Heartbeat,
	}
}

// Register adds c to the registry. It returns false when c is already
// registered; a client is never delivered the same broadcast twice.
func (b *Bus) Register(c Client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registerLocked(c)
}

func (b *Bus) registerLocked(c Client) bool {
	if slices.Contains(b.clients, c) {
		return false
	}
	b.clients = append(b.clients, c)
	b.logger.Debug("client registered", "client", clientID(c), "clients", len(b.clients))
	return true
}

// RegisterReplay writes every history entry to c and then registers it,
// without letting a broadcast slip in between.
func (b *Bus) RegisterReplay(c Client) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.order {
		if err := c.Write(b.history[id].Data); err != nil {
			return fmt.Errorf("replay %q: %w", id, err)
		}
	}
	b.registerLocked(c)
	return nil
}

// Disconnect removes c from the registry. It reports whether c was present.
func (b *Bus) Disconnect(c Client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.clients, c)
	if i < 0 {
		return false
	}
	b.clients = slices.Delete(b.clients, i, i+1)
	b.logger.Debug("client disconnected", "client", clientID(c), "clients", len(b.clients))
	return true
}

// ErrUnencodable is returned by Broadcast when an event's data cannot be
// encoded as JSON. Such an event is neither recorded nor delivered.
var ErrUnencodable = errors.New("bus: event data cannot be encoded")

// Broadcast records ev as the latest event for its id and writes its data to
// every registered client. Object payloads get "id" and "updatedAt" (Unix
// seconds) injected first. The data is encoded once and every client receives
// the same json.RawMessage. A client whose write fails is evicted and its
// stream closed; the remaining clients still receive the payload.
// The recorded event is returned.
func (b *Bus) Broadcast(ev Event) (Event, error) {
	if ev.Data.IsObject() {
		ev.Data = ev.Data.
			With("id", value.StringValue(ev.ID)).
			With("updatedAt", value.IntValue(ev.UpdatedAt.Unix()))
	}

	payload, err := json.Marshal(ev.Data)
	if err != nil {
		b.logger.Warn("dropping unencodable event", "event", ev.ID, "error", err)
		return ev, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	raw := json.RawMessage(payload)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordLocked(ev)
	b.broadcasts++

	var failed []Client
	for _, c := range slices.Clone(b.clients) {
		if err := c.Write(raw); err != nil {
			b.logger.Warn("write to client failed", "client", clientID(c), "event", ev.ID, "error", err)
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		b.evictLocked(c, "write failed")
	}
	return ev, nil
}

func (b *Bus) recordLocked(ev Event) {
	if _, ok := b.history[ev.ID]; ok {
		if i := slices.Index(b.order, ev.ID); i >= 0 {
			b.order = slices.Delete(b.order, i, i+1)
		}
	}
	b.history[ev.ID] = ev
	b.order = append(b.order, ev.ID)
	b.trimLocked()
}

func (b *Bus) trimLocked() {
	if b.maxHistory <= 0 {
		return
	}
	for len(b.order) > b.maxHistory {
		delete(b.history, b.order[0])
		b.order = b.order[1:]
	}
}

// History returns the data of every stored event, least recently updated first.
func (b *Bus) History() []value.Value {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]value.Value, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.history[id].Data)
	}
	return out
}

// Latest returns the stored event for id.
func (b *Bus) Latest(id string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.history[id]
	return ev, ok
}

// Len returns the number of registered clients.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Clients:    len(b.clients),
		History:    len(b.order),
		Broadcasts: b.broadcasts,
		Evicted:    b.evicted,
	}
}

// SetMaxHistory changes the history bound, trimming immediately.
func (b *Bus) SetMaxHistory(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxHistory = n
	b.trimLocked()
}

// Sweep evicts clients idle for longer than the idle timeout and, when
// heartbeats are on, pings the rest, evicting those whose ping fails.
// It returns the number of evicted clients.
func (b *Bus) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	for _, c := range slices.Clone(b.clients) {
		if b.idleTimeout > 0 {
			if idl, ok := c.(idler); ok && now.Sub(idl.LastWrite()) > b.idleTimeout {
				b.evictLocked(c, "idle timeout")
				evicted++
				continue
			}
		}
		if !b.heartbeat {
			continue
		}
		if p, ok := c.(pinger); ok {
			if err := p.Ping(); err != nil {
				b.logger.Debug("heartbeat failed", "client", clientID(c), "error", err)
				b.evictLocked(c, "heartbeat failed")
				evicted++
			}
		}
	}
	return evicted
}

// Run calls Sweep every interval until ctx is done.
func (b *Bus) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := b.Sweep(now); n > 0 {
				b.logger.Info("swept clients", "evicted", n, "remaining", b.Len())
			}
		}
	}
}

func (b *Bus) evictLocked(c Client, reason string) {
	i := slices.Index(b.clients, c)
	if i < 0 {
		return
	}
	b.clients = slices.Delete(b.clients, i, i+1)
	b.evicted++
	b.logger.Info("client evicted", "client", clientID(c), "reason", reason, "clients", len(b.clients))

	if cl, ok := c.(closer); ok {
		if err := cl.CloseStream(); err != nil {
			b.logger.Debug("closing evicted stream", "client", clientID(c), "error", err)
		}
	}
}

func clientID(c Client) string {
	if id, ok := c.(identified); ok && id.ID() != "" {
		return id.ID()
	}
	return fmt.Sprintf("%p", c)
}
