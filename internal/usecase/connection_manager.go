package usecase

import (
	"context"
	"sync"
	"time"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
	"bidchat/pkg/errors"
	"bidchat/pkg/logger"
)

const transportEventBuffer = 64

// ConnectionManager owns the session's single push connection. It is the only writer to
// the socket and reports lifecycle changes on Events.
type ConnectionManager struct {
	dialer      repository.PushDialer
	maxAttempts int
	retryDelay  time.Duration
	events      chan entity.TransportEvent

	mu      sync.Mutex
	session *entity.Session
	conn    repository.PushConn
	joined  string
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewConnectionManager(dialer repository.PushDialer, maxAttempts int, retryDelay time.Duration) *ConnectionManager {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ConnectionManager{
		dialer:      dialer,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		events:      make(chan entity.TransportEvent, transportEventBuffer),
	}
}

func (m *ConnectionManager) Events() <-chan entity.TransportEvent {
	return m.events
}

// Connect starts the connection loop for session. It is a no-op while a loop is running.
func (m *ConnectionManager) Connect(ctx context.Context, session *entity.Session) error {
	if session == nil || session.Token == "" {
		return errors.Unauthorized("Session is required to connect", nil)
	}
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	return m.start(ctx)
}

// Reconnect restarts the loop after a terminal connection error.
func (m *ConnectionManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	hasSession := m.session != nil
	m.mu.Unlock()
	if !hasSession {
		return errors.Unauthorized("Session is required to reconnect", nil)
	}
	return m.start(ctx)
}

func (m *ConnectionManager) start(parent context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running() {
		return nil
	}

	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.done = make(chan struct{})
	go func(session *entity.Session, done chan struct{}) {
		terminal := m.run(ctx, session)
		// Signal done before reporting, so a Reconnect issued on the terminal event
		// never finds this loop still running.
		close(done)
		if terminal != nil {
			m.publish(ctx, *terminal)
		}
	}(m.session, m.done)
	return nil
}

// running must be called with mu held.
func (m *ConnectionManager) running() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Disconnect leaves the joined room, closes the socket and stops retrying.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	cancel, conn, joined, done := m.cancel, m.conn, m.joined, m.done
	m.cancel = nil
	m.joined = ""
	m.mu.Unlock()

	if conn != nil && joined != "" {
		if err := conn.Emit(repository.EventLeaveRoom, joined); err != nil {
			logger.Warn("ConnectionManager: failed to release room %s on disconnect: %v", joined, err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (m *ConnectionManager) connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Emit sends an event over the live connection. Without one it fails with a TransportError.
func (m *ConnectionManager) Emit(event string, payload interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return errors.TransportError("Push channel is not connected", nil)
	}
	return conn.Emit(event, payload)
}

func (m *ConnectionManager) Join(roomID string) {
	if err := m.Emit(repository.EventJoinRoom, roomID); err != nil {
		logger.Debug("ConnectionManager: join_room %s not sent: %v", roomID, err)
		return
	}
	m.mu.Lock()
	m.joined = roomID
	m.mu.Unlock()
}

func (m *ConnectionManager) Leave(roomID string) {
	m.mu.Lock()
	if m.joined == roomID {
		m.joined = ""
	}
	m.mu.Unlock()

	if err := m.Emit(repository.EventLeaveRoom, roomID); err != nil {
		logger.Debug("ConnectionManager: leave_room %s not sent: %v", roomID, err)
	}
}

// run dials and reads until ctx ends or retries run out. It returns the terminal event, if any.
func (m *ConnectionManager) run(ctx context.Context, session *entity.Session) *entity.TransportEvent {
	retries := 0
	for {
		if retries > 0 {
			m.publish(ctx, entity.TransportEvent{Type: entity.TransportReconnecting, Attempt: retries})
			if !sleepCtx(ctx, m.retryDelay) {
				return nil
			}
		}

		conn, err := m.dialer.Dial(ctx, session)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return nil
		}
		if err != nil {
			logger.Warn("ConnectionManager: dial failed (retry %d/%d): %v", retries, m.maxAttempts, err)
			if errors.Is(err, errors.CodeUnauthorized) || retries >= m.maxAttempts {
				return &entity.TransportEvent{
					Type: entity.TransportConnectionError,
					Err:  errors.TransportError("Push channel unavailable", err),
				}
			}
			retries++
			continue
		}

		retries = 0
		m.setConn(conn)
		logger.Info("ConnectionManager: connected as %s", session.User.ID)
		m.publish(ctx, entity.TransportEvent{Type: entity.TransportConnected})

		readErr := m.readLoop(ctx, conn)
		m.setConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}

		logger.Warn("ConnectionManager: disconnected: %v", readErr)
		m.publish(ctx, entity.TransportEvent{Type: entity.TransportDisconnected, Err: readErr})
		retries = 1
	}
}

func (m *ConnectionManager) readLoop(ctx context.Context, conn repository.PushConn) error {
	for {
		inbound, err := conn.Receive()
		if err != nil {
			return err
		}
		if !m.publish(ctx, entity.TransportEvent{Type: entity.TransportInbound, Inbound: inbound}) {
			return ctx.Err()
		}
	}
}

// setConn swaps the live connection. Server-side membership dies with the socket, so the
// joined room is forgotten either way.
func (m *ConnectionManager) setConn(conn repository.PushConn) {
	m.mu.Lock()
	m.conn = conn
	m.joined = ""
	m.mu.Unlock()
}

func (m *ConnectionManager) publish(ctx context.Context, ev entity.TransportEvent) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
