package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodalink/nodalink/internal/nodalink/state"
)

const (
	// wsIdleInterval is how long the server waits for a client message before
	// sending its own ping to keep the connection live.
	wsIdleInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// handleWebSocket upgrades the connection, sends the init snapshot, then
// pumps shared-store events until the client goes away. Client messages
// {"type":"ping"} and {"type":"get_current_state"} are answered directly;
// after 30 seconds without one the server sends a ping itself.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowOrigin(origin) != ""
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, events := s.state.Subscribe()
	defer s.state.Unsubscribe(id)
	slog.Info("websocket client connected", "subscriber", id)
	defer slog.Info("websocket client disconnected", "subscriber", id)

	// A single writer goroutine owns the socket; the reader only forwards
	// raw client messages.
	clientMsgs := make(chan []byte, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case clientMsgs <- raw:
			default:
			}
		}
	}()

	if err := writeEvent(conn, state.NewEvent(state.EventInit, s.state.Snapshot())); err != nil {
		return
	}

	idle := time.NewTimer(wsIdleInterval)
	defer idle.Stop()

	for {
		select {
		case <-done:
			return
		case raw := <-clientMsgs:
			resetTimer(idle, wsIdleInterval)
			if reply := s.clientReply(raw); reply != nil {
				if err := writeEvent(conn, *reply); err != nil {
					return
				}
			}
		case ev, ok := <-events:
			if !ok {
				// Reaped as a slow subscriber.
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-idle.C:
			if err := writeEvent(conn, state.NewEvent(state.EventPing, nil)); err != nil {
				return
			}
			idle.Reset(wsIdleInterval)
		}
	}
}

// clientReply maps a client message to its response event, or nil for
// messages that need no reply.
func (s *Server) clientReply(raw []byte) *state.Event {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	switch msg.Type {
	case "ping":
		ev := state.NewEvent(state.EventPong, nil)
		return &ev
	case "get_current_state":
		ev := state.NewEvent(state.EventCurrentState, s.state.Snapshot())
		return &ev
	}
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func writeEvent(conn *websocket.Conn, ev state.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}
