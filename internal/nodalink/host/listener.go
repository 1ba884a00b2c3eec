package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// EventSink receives host events decoded by the listener. Implemented by the
// engine's ingress methods.
type EventSink interface {
	HandleButtonEvent(deviceID, command string)
	HandlePresenceChange(entityID, oldState, newState string)
	HandleCustomTrigger(room, interactionType string, extra map[string]any)
}

// Subscribed host event types.
var subscribedEvents = []string{"zha_event", "deconz_event", "nodalink_trigger", "state_changed"}

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// Listener maintains a WebSocket subscription to the host event bus and
// forwards recognised events to the sink.
type Listener struct {
	baseURL string
	token   string
	sink    EventSink
	dialer  *websocket.Dialer
}

// NewListener creates a listener against the host at baseURL (http or https;
// the scheme is translated to ws/wss).
func NewListener(baseURL, token string, sink EventSink) *Listener {
	return &Listener{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		sink:    sink,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run connects and consumes events until ctx is cancelled, reconnecting with
// exponential backoff on any failure.
func (l *Listener) Run(ctx context.Context) {
	delay := reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		err := l.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("host event stream closed, reconnecting", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

// wsMessage is the envelope shared by all host WebSocket frames.
type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

func (l *Listener) consume(ctx context.Context) error {
	wsURL, err := l.websocketURL()
	if err != nil {
		return err
	}
	conn, _, err := l.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial host websocket: %w", err)
	}
	defer conn.Close()

	// Close the socket when ctx ends so the blocked read returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := l.authenticate(conn); err != nil {
		return err
	}
	if err := l.subscribe(conn); err != nil {
		return err
	}
	slog.Info("host event stream connected", "events", subscribedEvents)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read host event: %w", err)
		}
		if msg.Type != "event" || msg.Event == nil {
			continue
		}
		l.handleEvent(msg.Event)
	}
}

func (l *Listener) websocketURL() (string, error) {
	u, err := url.Parse(l.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse host url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported host scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}

// authenticate performs the host handshake: auth_required, auth, auth_ok.
func (l *Listener) authenticate(conn *websocket.Conn) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth challenge: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected handshake message %q", hello.Type)
	}
	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": l.token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	var reply wsMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	if reply.Type != "auth_ok" {
		return fmt.Errorf("host rejected authentication: %s", reply.Type)
	}
	return nil
}

func (l *Listener) subscribe(conn *websocket.Conn) error {
	for i, event := range subscribedEvents {
		req := map[string]any{
			"id":         i + 1,
			"type":       "subscribe_events",
			"event_type": event,
		}
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe %s: %w", event, err)
		}
		var reply wsMessage
		if err := conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("subscribe %s: %w", event, err)
		}
		if reply.Success != nil && !*reply.Success {
			return fmt.Errorf("host refused subscription to %s", event)
		}
	}
	return nil
}

// hostEvent is the inner event payload of an "event" frame.
type hostEvent struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

func (l *Listener) handleEvent(raw json.RawMessage) {
	var ev hostEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		slog.Warn("undecodable host event", "error", err)
		return
	}
	switch ev.EventType {
	case "zha_event", "deconz_event":
		device := stringField(ev.Data, "device_ieee")
		if device == "" {
			device = stringField(ev.Data, "device_id")
		}
		command := stringField(ev.Data, "command")
		if command == "" {
			command = stringField(ev.Data, "event")
		}
		if device == "" || command == "" {
			return
		}
		l.sink.HandleButtonEvent(device, command)
	case "nodalink_trigger":
		room := stringField(ev.Data, "room")
		interaction := stringField(ev.Data, "interaction_type")
		if room == "" || interaction == "" {
			slog.Warn("custom trigger missing room or interaction_type", "data", ev.Data)
			return
		}
		l.sink.HandleCustomTrigger(room, interaction, ev.Data)
	case "state_changed":
		entity := stringField(ev.Data, "entity_id")
		oldState := nestedState(ev.Data, "old_state")
		newState := nestedState(ev.Data, "new_state")
		if entity == "" || newState == "" {
			return
		}
		l.sink.HandlePresenceChange(entity, oldState, newState)
	}
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func nestedState(data map[string]any, key string) string {
	obj, _ := data[key].(map[string]any)
	if obj == nil {
		return ""
	}
	return stringField(obj, "state")
}
