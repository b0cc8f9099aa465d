// pattern: Functional Core

package host

import (
	"encoding/json"
	"io"
	"net/http"
)

// Kind selects how the host writes a Response.
type Kind int

const (
	// Buffered responses are written in full and the output released
	// as soon as Contents returns.
	Buffered Kind = iota
	// Streaming responses keep the output open after Contents returns; it is
	// released when its owner closes it or the client goes away.
	Streaming
)

func (k Kind) String() string {
	if k == Streaming {
		return "streaming"
	}
	return "buffered"
}

// Output is the write side of a response handed to Contents.
type Output interface {
	io.Writer
	Flush() error
	Close() error
}

// Response is the transport-independent reply produced by an Engine.
type Response struct {
	Status      int // 0 means 200
	ContentType string
	Headers     http.Header
	Cookies     []*http.Cookie
	Kind        Kind
	Contents    func(out Output) error
	OnClose     func() // called once the output has been released
}

// Empty returns a bodiless buffered response.
func Empty(status int) *Response {
	return &Response{Status: status}
}

// Text returns a plain-text buffered response.
func Text(status int, body string) *Response {
	return &Response{
		Status:      status,
		ContentType: "text/plain; charset=utf-8",
		Contents: func(out Output) error {
			_, err := io.WriteString(out, body)
			return err
		},
	}
}

// JSON returns a buffered response with v encoded as JSON.
func JSON(status int, v any) *Response {
	return &Response{
		Status:      status,
		ContentType: "application/json",
		Contents: func(out Output) error {
			return json.NewEncoder(out).Encode(v)
		},
	}
}

// Redirect returns a redirect to location.
func Redirect(status int, location string) *Response {
	return &Response{
		Status:  status,
		Headers: http.Header{"Location": []string{location}},
	}
}
