// pattern: Imperative Shell

// Package stream frames payloads as server-sent event messages on an open
// output channel. A Writer does not own its channel; it is handed one by the
// HTTP host when the streaming response starts.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	// ErrNotOpen is returned by Write before Open has captured an output.
	ErrNotOpen = errors.New("stream: cannot write before the stream has been opened")

	// ErrClosed is returned by Write after CloseStream.
	ErrClosed = errors.New("stream: closed")

	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("stream: already opened")

	// ErrEncode wraps a payload that could not be serialized. Nothing is
	// written and the stream stays usable.
	ErrEncode = errors.New("stream: encode payload")
)

var (
	dataPrefix = []byte("data: ")
	terminator = []byte("\n\n")
	pingFrame  = []byte(": ping\n\n")
)

// Output is the write side of a kept-open HTTP response.
type Output interface {
	io.Writer
	Flush() error
	Close() error
}

// MarshalFunc serializes a payload to JSON.
type MarshalFunc func(v any) ([]byte, error)

// Option configures a Writer.
type Option func(*Writer)

// WithMarshal replaces the JSON serializer (json.Marshal by default).
func WithMarshal(fn MarshalFunc) Option {
	return func(w *Writer) { w.marshal = fn }
}

// WithID labels the writer, typically with the connection id, for logging.
func WithID(id string) Option {
	return func(w *Writer) { w.id = id }
}

// WithClock replaces time.Now for last-write bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// Writer writes `data: <json>\n\n` frames to a captured Output and flushes
// after every frame. It is safe for concurrent use.
type Writer struct {
	id      string
	initial any
	marshal MarshalFunc
	now     func() time.Time

	mu        sync.Mutex
	out       Output
	closed    bool
	lastWrite time.Time
	frames    uint64
}

// NewWriter returns a Writer that sends initial as its first frame once opened.
// A nil initial sends nothing on open.
func NewWriter(initial any, opts ...Option) *Writer {
	w := &Writer{
		initial: initial,
		marshal: json.Marshal,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the label given with WithID.
func (w *Writer) ID() string { return w.id }

// Open captures out for the lifetime of the connection and writes the
// initial payload.
func (w *Writer) Open(out Output) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.out != nil {
		return ErrAlreadyOpen
	}
	w.out = out
	w.lastWrite = w.now()

	if w.initial == nil {
		return nil
	}
	return w.writeLocked(w.initial)
}

// Write serializes body as JSON and sends it as one frame, flushing immediately.
func (w *Writer) Write(body any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.out == nil {
		return ErrNotOpen
	}
	return w.writeLocked(body)
}

func (w *Writer) writeLocked(body any) error {
	payload, err := w.marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(dataPrefix) + len(payload) + len(terminator))
	buf.Write(dataPrefix)
	buf.Write(payload)
	buf.Write(terminator)

	return w.sendLocked(buf.Bytes())
}

// Ping writes an SSE comment frame. Clients ignore it; a failure means the
// connection is gone.
func (w *Writer) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.out == nil {
		return ErrNotOpen
	}
	return w.sendLocked(pingFrame)
}

func (w *Writer) sendLocked(frame []byte) error {
	if _, err := w.out.Write(frame); err != nil {
		return fmt.Errorf("stream: write: %w", err)
	}
	if err := w.out.Flush(); err != nil {
		return fmt.Errorf("stream: flush: %w", err)
	}
	w.lastWrite = w.now()
	w.frames++
	return nil
}

// CloseStream closes the captured output. Later writes return ErrClosed.
// Closing an unopened or already closed Writer is a no-op.
func (w *Writer) CloseStream() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.out == nil {
		return nil
	}
	return w.out.Close()
}

// LastWrite returns when a frame was last delivered, or when the stream was opened.
func (w *Writer) LastWrite() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastWrite
}

// Frames returns the number of frames delivered, pings included.
func (w *Writer) Frames() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}
