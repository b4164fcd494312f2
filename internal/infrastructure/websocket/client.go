package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
	"bidchat/pkg/errors"
	"bidchat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Dialer opens push connections to the marketplace websocket endpoint.
type Dialer struct {
	url    string
	dialer *websocket.Dialer
}

func NewDialer(url string) *Dialer {
	return &Dialer{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Dial authenticates with the session token in the handshake; frames carry no credentials.
func (d *Dialer) Dial(ctx context.Context, session *entity.Session) (repository.PushConn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+session.Token)

	ws, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Unauthorized("Push channel rejected session", err)
		}
		return nil, errors.TransportError("Failed to open push channel", err)
	}

	conn := newConn(session.User.ID, ws)
	conn.start()
	logger.Info("WebSocket: connection %s opened for user %s", conn.ID, conn.UserID)
	return conn, nil
}

// Conn is one live push connection. Writes go through a buffered channel drained by a
// single write loop; Receive must only be called from one goroutine.
type Conn struct {
	ID     string
	UserID string

	ws      *websocket.Conn
	send    chan []byte
	closed  chan struct{}
	flushed chan struct{}
	once    sync.Once
}

func newConn(userID string, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:      uuid.NewString(),
		UserID:  userID,
		ws:      ws,
		send:    make(chan []byte, sendBufferSize),
		closed:  make(chan struct{}),
		flushed: make(chan struct{}),
	}
}

func (c *Conn) start() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writePump()
}

// Emit queues an event for the write loop. It never blocks.
func (c *Conn) Emit(event string, payload interface{}) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return errors.BadRequest("Failed to encode push event", err)
	}

	select {
	case <-c.closed:
		return errors.TransportError("Push connection closed", nil)
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return errors.TransportError("Push connection closed", nil)
	default:
		return errors.TransportError("Push send buffer full", nil)
	}
}

// Receive blocks until the next new_message event. Keepalive and unknown frames are skipped.
func (c *Conn) Receive() (*entity.InboundMessage, error) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket: connection %s closed unexpectedly: %v", c.ID, err)
			}
			return nil, errors.TransportError("Push connection lost", err)
		}

		inbound, err := decodeNewMessage(raw)
		if err != nil {
			logger.Warn("WebSocket: dropping malformed frame on %s: %v", c.ID, err)
			continue
		}
		if inbound == nil {
			logger.Debug("WebSocket: ignoring frame on %s: %s", c.ID, string(raw))
			continue
		}
		return inbound, nil
	}
}

// Close stops accepting events, lets the write loop flush what is queued (a final
// leave_room included), then sends a close frame and drops the socket.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		select {
		case <-c.flushed:
		case <-time.After(writeWait):
			logger.Warn("WebSocket: connection %s did not flush in time", c.ID)
		}
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
		logger.Info("WebSocket: connection %s closed", c.ID)
	})
	return nil
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.flushed)
	}()

	for {
		select {
		case <-c.closed:
			c.drain()
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				logger.Warn("WebSocket: write failed on %s: %v", c.ID, err)
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *Conn) drain() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
