// pattern: Imperative Shell

package web

import (
	"dashing/internal/host"
	"dashing/internal/stream"
	"dashing/internal/value"
)

// openMessage is the first frame of every subscription.
var openMessage = value.ObjectValue(
	value.Member{Key: "id", Value: value.StringValue("Open")},
	value.Member{Key: "data", Value: value.StringValue("Open")},
)

// handleEvents is the subscribe endpoint. The stream writer is registered
// with the bus once the host hands over the open output; the host keeps the
// response open until the bus closes the writer or the client goes away.
func (s *Server) handleEvents(req *host.Request) *host.Response {
	w := stream.NewWriter(openMessage, stream.WithID(req.ConnID))
	logger := s.logger.With("conn", req.ConnID)

	return &host.Response{
		Kind:        host.Streaming,
		ContentType: "text/event-stream",
		Contents: func(out host.Output) error {
			if err := w.Open(out); err != nil {
				return err
			}
			if s.cfg.ReplayHistory {
				if err := s.bus.RegisterReplay(w); err != nil {
					return err
				}
			} else {
				s.bus.Register(w)
			}
			logger.Debug("subscriber connected", "clients", s.bus.Len())
			return nil
		},
		OnClose: func() {
			if s.bus.Disconnect(w) {
				logger.Debug("subscriber disconnected", "clients", s.bus.Len())
			}
			_ = w.CloseStream()
		},
	}
}
