package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
	"bidchat/pkg/errors"
)

const selfID = "customer-1"

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeBackend is an in-memory marketplace server for one customer.
type fakeBackend struct {
	mu       sync.Mutex
	rooms    map[string]*entity.ChatRoom
	messages map[string][]*entity.Message
	seq      int
	clock    time.Time

	unreadErr error
	roomsErr  error
	sendErr   error

	windowGates   map[string]chan struct{}
	unreadGate    chan struct{}
	markReadCalls []string
	unreadCalls   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rooms:       make(map[string]*entity.ChatRoom),
		messages:    make(map[string][]*entity.Message),
		clock:       baseTime,
		windowGates: make(map[string]chan struct{}),
	}
}

func (b *fakeBackend) addRoom(id, vendorID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms[id] = &entity.ChatRoom{
		ID:         id,
		JobID:      "job-" + id,
		CustomerID: selfID,
		VendorID:   vendorID,
		Status:     entity.RoomStatusActive,
	}
}

// deliver stores a message server-side, as if sent by senderID, and returns it.
func (b *fakeBackend) deliver(roomID, senderID, content string) *entity.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(roomID, senderID, content, entity.MessageTypeText)
}

func (b *fakeBackend) appendLocked(roomID, senderID, content string, msgType entity.MessageType) *entity.Message {
	b.seq++
	b.clock = b.clock.Add(time.Second)
	msg := &entity.Message{
		ID:        fmt.Sprintf("m%d", b.seq),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		Type:      msgType,
		CreatedAt: b.clock,
	}
	b.messages[roomID] = append(b.messages[roomID], msg)
	if room, ok := b.rooms[roomID]; ok {
		room.LastMessageAt = msg.CreatedAt
		room.LastMessage = content
	}
	return msg.Clone()
}

func (b *fakeBackend) gateWindow(roomID string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	b.windowGates[roomID] = gate
	return gate
}

// gateUnread holds every later unread query until the returned channel is closed.
func (b *fakeBackend) gateUnread() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	b.unreadGate = gate
	return gate
}

func (b *fakeBackend) setUnreadErr(err error) {
	b.mu.Lock()
	b.unreadErr = err
	b.mu.Unlock()
}

func (b *fakeBackend) markReadCallsFor(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, id := range b.markReadCalls {
		if id == roomID {
			n++
		}
	}
	return n
}

func (b *fakeBackend) unreadLocked(roomID string) int {
	n := 0
	for _, msg := range b.messages[roomID] {
		if !msg.IsRead && msg.SenderID != selfID {
			n++
		}
	}
	return n
}

func (b *fakeBackend) FetchRoomList(ctx context.Context, session *entity.Session) ([]*entity.ChatRoom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.roomsErr != nil {
		return nil, b.roomsErr
	}
	rooms := make([]*entity.ChatRoom, 0, len(b.rooms))
	for id, room := range b.rooms {
		c := room.Clone()
		c.UnreadCount = b.unreadLocked(id)
		rooms = append(rooms, c)
	}
	return rooms, nil
}

func (b *fakeBackend) FetchUnreadCount(ctx context.Context, session *entity.Session) (int, error) {
	b.mu.Lock()
	gate := b.unreadGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.unreadCalls++
	if b.unreadErr != nil {
		return 0, b.unreadErr
	}
	total := 0
	for id := range b.rooms {
		total += b.unreadLocked(id)
	}
	return total, nil
}

func (b *fakeBackend) FetchMessageWindow(ctx context.Context, session *entity.Session, roomID string) ([]*entity.Message, error) {
	b.mu.Lock()
	gate := b.windowGates[roomID]
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*entity.Message, 0, len(b.messages[roomID]))
	for _, msg := range b.messages[roomID] {
		out = append(out, msg.Clone())
	}
	return out, nil
}

func (b *fakeBackend) SendMessage(ctx context.Context, session *entity.Session, roomID, content string, msgType entity.MessageType) (*entity.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	return b.appendLocked(roomID, session.User.ID, content, msgType), nil
}

func (b *fakeBackend) MarkRoomRead(ctx context.Context, session *entity.Session, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markReadCalls = append(b.markReadCalls, roomID)
	for _, msg := range b.messages[roomID] {
		if msg.SenderID != session.User.ID {
			msg.MarkRead(b.clock)
		}
	}
	return nil
}

func (b *fakeBackend) CreateRoom(ctx context.Context, session *entity.Session, jobID, vendorID string) (*entity.ChatRoom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := entity.RoomIDFor(jobID, vendorID)
	if room, ok := b.rooms[id]; ok {
		return room.Clone(), errors.Conflict("Chat room already exists")
	}
	room := &entity.ChatRoom{ID: id, JobID: jobID, CustomerID: session.User.ID, VendorID: vendorID, Status: entity.RoomStatusActive}
	b.rooms[id] = room
	return room.Clone(), nil
}

// fakeDialer hands out in-memory connections; failNext makes the next dials fail.
type fakeDialer struct {
	mu       sync.Mutex
	failNext int
	failAll  bool
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, session *entity.Session) (repository.PushConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failAll || d.failNext > 0 {
		if d.failNext > 0 {
			d.failNext--
		}
		return nil, errors.TransportError("dial refused", nil)
	}
	conn := &fakeConn{
		inbound: make(chan *entity.InboundMessage, 16),
		closed:  make(chan struct{}),
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setFailAll(v bool) {
	d.mu.Lock()
	d.failAll = v
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) current() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type emission struct {
	event   string
	payload interface{}
}

type fakeConn struct {
	mu      sync.Mutex
	inbound chan *entity.InboundMessage
	emits   []emission
	closed  chan struct{}
	once    sync.Once
}

func (c *fakeConn) Emit(event string, payload interface{}) error {
	select {
	case <-c.closed:
		return errors.TransportError("closed", nil)
	default:
	}
	c.mu.Lock()
	c.emits = append(c.emits, emission{event: event, payload: payload})
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Receive() (*entity.InboundMessage, error) {
	select {
	case in := <-c.inbound:
		return in, nil
	case <-c.closed:
		return nil, errors.TransportError("connection lost", nil)
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(msg *entity.Message) {
	c.inbound <- &entity.InboundMessage{RoomID: msg.RoomID, Message: msg}
}

func (c *fakeConn) emitted(event string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rooms []string
	for _, e := range c.emits {
		if e.event != event {
			continue
		}
		switch p := e.payload.(type) {
		case string:
			rooms = append(rooms, p)
		case *entity.Message:
			rooms = append(rooms, p.ID)
		}
	}
	return rooms
}

func testSession() *entity.Session {
	return &entity.Session{Token: "token", User: entity.User{ID: selfID, Role: entity.RoleCustomer}}
}

func testOptions() Options {
	return Options{
		ReconnectAttempts: 5,
		ReconnectDelay:    5 * time.Millisecond,
		RoomRefreshEvery:  time.Hour,
		MarkReadDelay:     10 * time.Millisecond,
		RequestTimeout:    2 * time.Second,
	}
}

func newTestEngine(t *testing.T, backend *fakeBackend, dialer *fakeDialer) *SyncEngine {
	t.Helper()
	return newTestEngineWithOptions(t, backend, dialer, testOptions())
}

func newTestEngineWithOptions(t *testing.T, backend *fakeBackend, dialer *fakeDialer, opts Options) *SyncEngine {
	t.Helper()
	engine, err := NewSyncEngine(testSession(), backend, dialer, opts)
	require.NoError(t, err)
	t.Cleanup(engine.Dispose)
	return engine
}

func startSynced(t *testing.T, engine *SyncEngine) {
	t.Helper()
	require.NoError(t, engine.Start())
	waitForState(t, engine, entity.SyncStateSynced)
}

func waitForState(t *testing.T, engine *SyncEngine, want entity.SyncState) {
	t.Helper()
	require.Eventually(t, func() bool { return engine.State() == want },
		2*time.Second, 5*time.Millisecond, "state never became %s (is %s)", want, engine.State())
}

func eventually(t *testing.T, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msgAndArgs...)
}
