package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/conductor/pkg/events"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	// Local control surface; the listener binds loopback by default.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS streams a session's events: the durable log first, then live
// events as they are recorded. Delivery is at-least-once — an event recorded
// during the replay can arrive twice — and clients deduplicate by event id.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session query parameter is required")
		return
	}
	runner, err := s.runnerFor(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	log, _, err := s.store.Load(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	// One writer at a time: replay and the live subscription share the conn.
	var writeMu sync.Mutex
	send := func(ev events.Event) error {
		data, err := events.Marshal(ev)
		if err != nil {
			s.logger.Warn("skipping unencodable event",
				"session_id", id, "event_id", ev.Header().ID, "error", err)
			return nil
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	// Subscribe before replaying so nothing recorded in between is lost.
	cancel := runner.queue.Subscribe("ws:"+conn.RemoteAddr().String(), send)
	defer cancel()

	for _, ev := range log {
		if err := send(ev); err != nil {
			return
		}
	}

	// Consume control frames until the peer goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
