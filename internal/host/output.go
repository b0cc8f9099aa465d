// pattern: Imperative Shell

package host

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOutputClosed is returned by writes to a released output.
var ErrOutputClosed = errors.New("host: output closed")

// output adapts an http.ResponseWriter to Output. Writes and Close are
// serialized so nothing touches the ResponseWriter once the output is released.
type output struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newOutput(w http.ResponseWriter, writeTimeout time.Duration) *output {
	return &output{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, ErrOutputClosed
	}
	if o.writeTimeout > 0 {
		// Not every ResponseWriter supports deadlines
		_ = o.rc.SetWriteDeadline(time.Now().Add(o.writeTimeout))
	}
	return o.w.Write(p)
}

func (o *output) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutputClosed
	}
	if err := o.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Close releases the output. Safe to call more than once.
func (o *output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	if o.writeTimeout > 0 {
		_ = o.rc.SetWriteDeadline(time.Time{})
	}
	close(o.done)
	return nil
}

// Done is closed once the output has been released.
func (o *output) Done() <-chan struct{} {
	return o.done
}

// trackingWriter records whether the response header has gone out, so a
// recovered panic can still answer 500 when nothing was written.
type trackingWriter struct {
	http.ResponseWriter
	wrote atomic.Bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wrote.Store(true)
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote.Store(true)
	return t.ResponseWriter.Write(p)
}

func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
