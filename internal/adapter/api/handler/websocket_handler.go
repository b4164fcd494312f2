package handler

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"bidchat/pkg/errors"
	"bidchat/pkg/logger"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = (eventPongWait * 9) / 10
)

type WebSocketHandler struct {
	engine SyncEngine
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Loopback bridge; the session token already gates the upgrade.
		return true
	},
}

type stateChangedEvent struct {
	Type     string        `json:"type"`
	Reason   string        `json:"reason"`
	At       time.Time     `json:"at"`
	Snapshot stateSnapshot `json:"data"`
}

func NewWebSocketHandler(engine SyncEngine) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
	}
}

// HandleEvents streams stateChanged signals. Each frame carries a fresh snapshot, so a
// client that missed frames only needs the latest one.
func (h *WebSocketHandler) HandleEvents(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}
	defer conn.Close()

	changes, cancel := h.engine.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	logger.Info("WebSocket: UI subscriber connected from %s", c.RealIP())
	defer logger.Info("WebSocket: UI subscriber disconnected")

	if err := h.write(conn, "snapshot", time.Now()); err != nil {
		return nil
	}

	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				_ = conn.WriteControl(gorillaws.CloseMessage,
					gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, "engine disposed"),
					time.Now().Add(eventWriteWait))
				return nil
			}
			if err := h.write(conn, change.Reason, change.At); err != nil {
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			return nil
		}
	}
}

func (h *WebSocketHandler) write(conn *gorillaws.Conn, reason string, at time.Time) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
	return conn.WriteJSON(stateChangedEvent{
		Type:     "state_changed",
		Reason:   reason,
		At:       at,
		Snapshot: snapshot(h.engine),
	})
}

// readPump only drains control frames; the UI sends commands over REST.
func (h *WebSocketHandler) readPump(conn *gorillaws.Conn, closed chan struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
