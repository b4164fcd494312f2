package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
	"bidchat/pkg/errors"
	"bidchat/pkg/logger"
)

type Options struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	RoomRefreshEvery  time.Duration
	MarkReadDelay     time.Duration
	RequestTimeout    time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		RoomRefreshEvery:  30 * time.Second,
		MarkReadDelay:     100 * time.Millisecond,
		RequestTimeout:    10 * time.Second,
	}
}

const subscriberBuffer = 16

// SyncEngine is the façade the UI talks to. All state lives on one goroutine (the loop);
// public methods run closures on it, and network calls post their results back to it.
type SyncEngine struct {
	session *entity.Session
	backend repository.ChatBackend
	conn    *ConnectionManager
	opts    Options

	store      *MessageStore
	directory  *RoomDirectory
	unread     *UnreadAccounting
	membership *RoomMembership

	state          entity.SyncState
	lastErr        error
	started        bool
	connected      bool
	unreadDegraded bool

	// Window loads are tagged with the generation they were issued under.
	loadGen uint64

	unreadInFlight, unreadAgain bool
	roomsInFlight, roomsAgain   bool

	subscribers map[int]chan entity.StateChange
	nextSubID   int

	ops         chan func()
	ctx         context.Context
	cancel      context.CancelFunc
	stopped     chan struct{}
	disposeOnce sync.Once
}

// NewSyncEngine creates the engine for one session and starts its loop in UNAUTHENTICATED.
// Call Start to connect and Dispose to release it.
func NewSyncEngine(session *entity.Session, backend repository.ChatBackend, dialer repository.PushDialer, opts Options) (*SyncEngine, error) {
	if session == nil || session.Token == "" || session.User.ID == "" {
		return nil, errors.Unauthorized("A session with a user is required", nil)
	}

	defaults := DefaultOptions()
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = defaults.ReconnectAttempts
	}
	if opts.RoomRefreshEvery <= 0 {
		opts.RoomRefreshEvery = defaults.RoomRefreshEvery
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaults.RequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := NewMessageStore()
	directory := NewRoomDirectory()
	conn := NewConnectionManager(dialer, opts.ReconnectAttempts, opts.ReconnectDelay)

	e := &SyncEngine{
		session:     session,
		backend:     backend,
		conn:        conn,
		opts:        opts,
		store:       store,
		directory:   directory,
		unread:      NewUnreadAccounting(session.User.ID, store, directory, opts.MarkReadDelay),
		membership:  NewRoomMembership(conn),
		state:       entity.SyncStateUnauthenticated,
		subscribers: make(map[int]chan entity.StateChange),
		ops:         make(chan func()),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
	}
	e.unread.afterFunc = func(d time.Duration, f func()) {
		time.AfterFunc(d, func() { e.post(f) })
	}
	e.unread.markRead = func(roomID string) {
		if e.membership.IsActive(roomID) {
			e.markRoomRead(roomID)
		}
	}

	go e.loop()
	return e, nil
}

func (e *SyncEngine) loop() {
	defer close(e.stopped)

	ticker := time.NewTicker(e.opts.RoomRefreshEvery)
	defer ticker.Stop()

	for {
		select {
		case fn := <-e.ops:
			fn()
		case ev := <-e.conn.Events():
			e.handleTransportEvent(ev)
		case <-ticker.C:
			// Polling only while connected, so staleness never hides a dead socket.
			if e.connected {
				e.refreshDirectory()
				e.refreshUnread()
			}
		case <-e.ctx.Done():
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (e *SyncEngine) do(fn func()) error {
	done := make(chan struct{})
	select {
	case e.ops <- func() { fn(); close(done) }:
	case <-e.stopped:
		return errors.Disposed()
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return errors.Disposed()
	}
}

// post queues fn on the loop without waiting. Dropped after Dispose.
func (e *SyncEngine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.ctx.Done():
	}
}

// Start moves UNAUTHENTICATED -> CONNECTING and opens the push channel.
func (e *SyncEngine) Start() error {
	var err error
	if doErr := e.do(func() {
		if e.started {
			err = errors.Conflict("Sync engine already started")
			return
		}
		e.started = true
		e.setState(entity.SyncStateConnecting, "session available")
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	return e.conn.Connect(e.ctx, e.session)
}

// Reconnect is the external trigger that leaves the terminal DISCONNECTED state.
func (e *SyncEngine) Reconnect() error {
	var err error
	if doErr := e.do(func() {
		if !e.started {
			err = errors.BadRequest("Sync engine has not been started", nil)
			return
		}
		if e.state != entity.SyncStateDisconnected {
			return
		}
		e.lastErr = nil
		e.setState(entity.SyncStateConnecting, "manual reconnect")
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	return e.conn.Reconnect(e.ctx)
}

// Dispose releases the joined room, closes the connection and stops the loop.
func (e *SyncEngine) Dispose() {
	e.disposeOnce.Do(func() {
		e.conn.Disconnect()
		e.cancel()
		<-e.stopped
		for id, ch := range e.subscribers {
			close(ch)
			delete(e.subscribers, id)
		}
		logger.Info("SyncEngine: disposed for user %s", e.session.User.ID)
	})
}

// OpenRoom makes roomID the active room: leave/join, load its window, mark it read.
func (e *SyncEngine) OpenRoom(roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return errors.BadRequest("Room id is required", nil)
	}
	return e.do(func() {
		if _, changed := e.membership.SetActiveRoom(roomID); !changed {
			return
		}
		e.loadWindow(roomID)
		e.markRoomRead(roomID)
		e.notify("room_opened")
	})
}

// CloseRoom clears the active room. In-flight window loads are abandoned.
func (e *SyncEngine) CloseRoom() error {
	return e.do(func() {
		if _, changed := e.membership.SetActiveRoom(""); !changed {
			return
		}
		e.loadGen++
		e.notify("room_closed")
	})
}

// MarkRoomRead sweeps roomID to read, locally and on the server.
func (e *SyncEngine) MarkRoomRead(roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return errors.BadRequest("Room id is required", nil)
	}
	return e.do(func() { e.markRoomRead(roomID) })
}

// Send posts content to the active room. The store only changes once the server returns
// the canonical message; a failure is reported as SEND_FAILED and never retried here.
func (e *SyncEngine) Send(ctx context.Context, content string, msgType entity.MessageType) (*entity.Message, error) {
	if msgType == "" {
		msgType = entity.MessageTypeText
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.BadRequest("Message content is required", nil)
	}
	if !msgType.Valid() {
		return nil, errors.BadRequest("Unsupported message type", nil)
	}

	var roomID string
	var state entity.SyncState
	if err := e.do(func() {
		roomID = e.membership.Active()
		state = e.state
	}); err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, errors.BadRequest("No active room to send to", nil)
	}
	if state == entity.SyncStateDisconnected || state == entity.SyncStateUnauthenticated {
		return nil, errors.SendFailed("Cannot send while offline", nil)
	}

	msg, err := e.backend.SendMessage(ctx, e.session, roomID, content, msgType)
	if err != nil {
		logger.Warn("SyncEngine: send to room %s failed: %v", roomID, err)
		return nil, errors.SendFailed("Failed to send message", err)
	}
	if msg == nil || msg.ID == "" {
		return nil, errors.SendFailed("Server returned no message", nil)
	}
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}

	confirmed := msg.Clone()
	if err := e.do(func() { e.applyOutgoing(confirmed) }); err != nil {
		logger.Debug("SyncEngine: sent message %s after dispose", msg.ID)
	}
	return msg, nil
}

// CreateRoom asks the collaborator for the (job, vendor) room. "Already exists" is success.
func (e *SyncEngine) CreateRoom(ctx context.Context, jobID, vendorID string) (*entity.ChatRoom, error) {
	if jobID == "" || vendorID == "" {
		return nil, errors.BadRequest("Job id and vendor id are required", nil)
	}

	room, err := e.backend.CreateRoom(ctx, e.session, jobID, vendorID)
	if err != nil {
		if !errors.Is(err, errors.CodeConflict) {
			return nil, err
		}
		logger.Info("SyncEngine: room for job %s and vendor %s already exists", jobID, vendorID)
	}

	if doErr := e.do(func() {
		if room != nil {
			e.directory.Upsert(room)
		}
		e.refreshDirectory()
		e.notify("room_created")
	}); doErr != nil {
		return nil, doErr
	}

	if room == nil {
		room = &entity.ChatRoom{ID: entity.RoomIDFor(jobID, vendorID), JobID: jobID, VendorID: vendorID, Status: entity.RoomStatusActive}
	}
	return room, nil
}

func (e *SyncEngine) ListRooms() []*entity.ChatRoom {
	var rooms []*entity.ChatRoom
	if err := e.do(func() { rooms = e.directory.List() }); err != nil {
		return []*entity.ChatRoom{}
	}
	return rooms
}

func (e *SyncEngine) GetMessages(roomID string) []*entity.Message {
	var msgs []*entity.Message
	if err := e.do(func() { msgs = e.store.Messages(roomID) }); err != nil {
		return []*entity.Message{}
	}
	return msgs
}

func (e *SyncEngine) GetUnreadCount() int {
	return e.Unread().Count
}

func (e *SyncEngine) Unread() entity.UnreadState {
	var st entity.UnreadState
	_ = e.do(func() { st = e.unread.State() })
	return st
}

func (e *SyncEngine) State() entity.SyncState {
	st := entity.SyncStateDisconnected
	_ = e.do(func() { st = e.state })
	return st
}

func (e *SyncEngine) ActiveRoom() string {
	var roomID string
	_ = e.do(func() { roomID = e.membership.Active() })
	return roomID
}

// LastError is the terminal connection error, if any.
func (e *SyncEngine) LastError() error {
	var err error
	_ = e.do(func() { err = e.lastErr })
	return err
}

// Subscribe returns a stateChanged stream. Slow readers miss intermediate signals and
// should re-read snapshots. The channel is closed on cancel or Dispose.
func (e *SyncEngine) Subscribe() (<-chan entity.StateChange, func()) {
	ch := make(chan entity.StateChange, subscriberBuffer)
	var id int
	if err := e.do(func() {
		id = e.nextSubID
		e.nextSubID++
		e.subscribers[id] = ch
	}); err != nil {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			_ = e.do(func() {
				if sub, ok := e.subscribers[id]; ok {
					delete(e.subscribers, id)
					close(sub)
				}
			})
		})
	}
}
