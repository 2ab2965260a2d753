package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPongWait     = 60 * time.Second
	eventPingEvery    = 25 * time.Second
)

// handleEventsWS streams lifecycle events as JSON text frames until the
// client goes away. Clients only listen; anything they send is discarded.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.lifecycle == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "lifecycle manager not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.lifecycle.Subscribe()
	defer unsubscribe()
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("event stream connected")

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.metrics.ObserveExternalError("ws_write")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		}
	}
}
