// pattern: Imperative Shell

package web

import (
	"fmt"
	"io"
	"net/http"

	"dashing/internal/bus"
	"dashing/internal/host"
	"dashing/internal/value"
)

// handlePublish handles POST /widgets/{id}.
// The body is any JSON value; it becomes the event's data.
func (s *Server) handlePublish(req *host.Request) *host.Response {
	id := req.Param("id")
	if id == "" {
		return errorResponse(http.StatusBadRequest, "missing widget id")
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("reading body: %v", err))
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		return errorResponse(http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", s.cfg.MaxBodyBytes))
	}

	data, err := value.Parse(body)
	if err != nil {
		s.logger.Warn("rejecting publish", "id", id, "conn", req.ConnID, "error", err)
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
	}

	if _, err := s.bus.Broadcast(bus.Event{ID: id, UpdatedAt: s.now(), Data: data}); err != nil {
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
	}
	s.logger.Debug("event published", "id", id, "bytes", len(body))
	return host.Empty(http.StatusOK)
}

// handleHistory handles GET /history.
// Returns the latest data per id, least recently updated first.
func (s *Server) handleHistory(*host.Request) *host.Response {
	history := s.bus.History()
	if history == nil {
		history = []value.Value{}
	}
	return host.JSON(http.StatusOK, history)
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(*host.Request) *host.Response {
	return host.JSON(http.StatusOK, s.bus.Stats())
}

// errorResponse builds a JSON error response with the given status code and message.
func errorResponse(status int, message string) *host.Response {
	return host.JSON(status, map[string]string{"error": message})
}
