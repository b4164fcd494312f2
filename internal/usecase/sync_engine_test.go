package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
	"bidchat/pkg/errors"
)

func messageIDs(msgs []*entity.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestStartReachesSynced(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	engine := newTestEngine(t, backend, &fakeDialer{})

	assert.Equal(t, entity.SyncStateUnauthenticated, engine.State())
	startSynced(t, engine)

	rooms := engine.ListRooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "job-r1", rooms[0].JobID)
	assert.Error(t, engine.Start())
}

func TestNewSyncEngineRequiresSession(t *testing.T) {
	_, err := NewSyncEngine(&entity.Session{}, newFakeBackend(), &fakeDialer{}, testOptions())
	assert.True(t, errors.Is(err, errors.CodeUnauthorized))
}

func TestSendDeduplicatesLatePushEcho(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	dialer := &fakeDialer{}
	engine := newTestEngine(t, backend, dialer)
	startSynced(t, engine)
	require.NoError(t, engine.OpenRoom("r1"))

	sent, err := engine.Send(context.Background(), "Hello", entity.MessageTypeText)
	require.NoError(t, err)

	msgs := engine.GetMessages("r1")
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)

	time.Sleep(20 * time.Millisecond)
	dialer.current().push(sent)

	eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{sent.ID}, messageIDs(engine.GetMessages("r1")))
	})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, engine.GetMessages("r1"), 1)
	assert.Contains(t, dialer.current().emitted(repository.EventMessageSent), sent.ID)
	assert.Equal(t, "Hello", engine.ListRooms()[0].LastMessage)
}

func TestSendFailureLeavesStoreUntouched(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	backend.deliver("r1", "vendor-1", "hi")
	engine := newTestEngine(t, backend, &fakeDialer{})
	startSynced(t, engine)
	require.NoError(t, engine.OpenRoom("r1"))
	eventually(t, func() bool { return len(engine.GetMessages("r1")) == 1 })

	backend.mu.Lock()
	backend.sendErr = errors.Internal("boom", nil)
	backend.mu.Unlock()

	_, err := engine.Send(context.Background(), "nope", entity.MessageTypeText)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeSendFailed))
	assert.Len(t, engine.GetMessages("r1"), 1)
}

func TestSendValidation(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	engine := newTestEngine(t, backend, &fakeDialer{})
	startSynced(t, engine)

	_, err := engine.Send(context.Background(), "no room yet", entity.MessageTypeText)
	assert.True(t, errors.Is(err, errors.CodeBadRequest))

	require.NoError(t, engine.OpenRoom("r1"))
	_, err = engine.Send(context.Background(), "   ", entity.MessageTypeText)
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
	_, err = engine.Send(context.Background(), "x", entity.MessageType("VIDEO"))
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
}

func TestSendWhileDisconnectedFails(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	dialer := &fakeDialer{}
	engine := newTestEngine(t, backend, dialer)
	startSynced(t, engine)
	require.NoError(t, engine.OpenRoom("r1"))

	dialer.setFailAll(true)
	dialer.current().Close()
	eventually(t, func() bool { return engine.LastError() != nil })
	assert.Equal(t, entity.SyncStateDisconnected, engine.State())

	_, err := engine.Send(context.Background(), "offline", entity.MessageTypeText)
	assert.True(t, errors.Is(err, errors.CodeSendFailed))
	assert.Empty(t, engine.GetMessages("r1"))
}

func TestUnreadExcludesActiveRoom(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	backend.addRoom("r2", "vendor-2")
	backend.deliver("r1", "vendor-1", "a")
	backend.deliver("r1", "vendor-1", "b")
	backend.deliver("r2", "vendor-2", "c")

	engine := newTestEngine(t, backend, &fakeDialer{})
	startSynced(t, engine)
	eventually(t, func() bool { return engine.GetUnreadCount() == 3 })

	require.NoError(t, engine.OpenRoom("r2"))
	eventually(t, func() bool {
		st := engine.Unread()
		return st.Count == 2 && st.Source == entity.UnreadSourceAuthoritative && backend.markReadCallsFor("r2") > 0
	})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, engine.GetUnreadCount())
}

func TestPeerMessageInActiveRoomKeepsUnreadCount(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	backend.addRoom("r2", "vendor-2")
	backend.deliver("r1", "vendor-1", "a")
	backend.deliver("r1", "vendor-1", "b")
	dialer := &fakeDialer{}
	engine := newTestEngine(t, backend, dialer)
	startSynced(t, engine)
	eventually(t, func() bool { return engine.GetUnreadCount() == 2 })

	require.NoError(t, engine.OpenRoom("r2"))
	eventually(t, func() bool { return backend.markReadCallsFor("r2") == 1 })
	time.Sleep(30 * time.Millisecond)

	gate := backend.gateUnread()
	msg := backend.deliver("r2", "vendor-2", "are you there?")
	dialer.current().push(msg)

	eventually(t, func() bool { return backend.markReadCallsFor("r2") == 2 })
	eventually(t, func() bool {
		msgs := engine.GetMessages("r2")
		return len(msgs) == 1 && msgs[0].IsRead
	})
	assert.Equal(t, 2, engine.GetUnreadCount())

	close(gate)
	eventually(t, func() bool {
		st := engine.Unread()
		return st.Source == entity.UnreadSourceAuthoritative && st.Count == 2
	})
}

func TestUnreadFallbackEntersDegraded(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	backend.addRoom("r2", "vendor-2")
	backend.deliver("r1", "vendor-1", "a")
	backend.deliver("r1", "vendor-1", "b")
	backend.deliver("r2", "vendor-2", "c")
	backend.setUnreadErr(errors.Internal("unread service down", nil))

	engine := newTestEngine(t, backend, &fakeDialer{})
	require.NoError(t, engine.Start())
	waitForState(t, engine, entity.SyncStateDegraded)

	eventually(t, func() bool {
		st := engine.Unread()
		return st.Source == entity.UnreadSourceDerived && st.Count == 3
	})

	require.NoError(t, engine.OpenRoom("r2"))
	eventually(t, func() bool {
		st := engine.Unread()
		return st.Source == entity.UnreadSourceDerived && st.Count == 2
	})

	backend.setUnreadErr(nil)
	require.NoError(t, engine.MarkRoomRead("r1"))
	waitForState(t, engine, entity.SyncStateSynced)
	eventually(t, func() bool {
		st := engine.Unread()
		return st.Source == entity.UnreadSourceAuthoritative && st.Count == 0
	})
}

func TestMarkRoomReadLowersCount(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	backend.addRoom("r2", "vendor-2")
	backend.deliver("r1", "vendor-1", "a")
	engine := newTestEngine(t, backend, &fakeDialer{})
	startSynced(t, engine)
	eventually(t, func() bool { return engine.GetUnreadCount() == 1 })

	require.NoError(t, engine.MarkRoomRead("r2"))
	eventually(t, func() bool { return backend.markReadCallsFor("r2") == 1 })
	assert.Equal(t, 1, engine.GetUnreadCount())

	require.NoError(t, engine.MarkRoomRead("r1"))
	eventually(t, func() bool { return engine.GetUnreadCount() == 0 })

	require.NoError(t, engine.MarkRoomRead("unknown"))
	eventually(t, func() bool { return backend.markReadCallsFor("unknown") == 1 })
	assert.Equal(t, 0, engine.GetUnreadCount())
	assert.Error(t, engine.MarkRoomRead(" "))
}

func TestRoomSwitchDiscardsStaleWindow(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("rA", "vendor-1")
	backend.addRoom("rB", "vendor-2")
	backend.deliver("rA", "vendor-1", "from A")
	backend.deliver("rB", "vendor-2", "from B")
	gate := backend.gateWindow("rA")

	engine := newTestEngine(t, backend, &fakeDialer{})
	startSynced(t, engine)

	require.NoError(t, engine.OpenRoom("rA"))
	require.NoError(t, engine.OpenRoom("rB"))
	eventually(t, func() bool { return len(engine.GetMessages("rB")) == 1 })

	close(gate)
	assert.Never(t, func() bool { return len(engine.GetMessages("rA")) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, "rB", engine.ActiveRoom())
	assert.Equal(t, "from B", engine.GetMessages("rB")[0].Content)
}

func TestReconnectResyncRecoversLostPushes(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	backend.addRoom("r2", "vendor-2")
	dialer := &fakeDialer{}
	opts := testOptions()
	opts.ReconnectDelay = 30 * time.Millisecond
	engine := newTestEngineWithOptions(t, backend, dialer, opts)
	startSynced(t, engine)
	require.NoError(t, engine.OpenRoom("r1"))
	first := dialer.current()
	eventually(t, func() bool { return len(first.emitted(repository.EventJoinRoom)) == 1 })

	dialer.setFailAll(true)
	first.Close()
	eventually(t, func() bool { return dialer.dialCount() >= 2 })
	assert.NotEqual(t, entity.SyncStateSynced, engine.State())

	// Delivered server-side while the socket is down: the pushes are lost.
	lostActive := backend.deliver("r1", "vendor-1", "missed in active room")
	lostOther := backend.deliver("r2", "vendor-2", "missed elsewhere")

	dialer.setFailAll(false)
	waitForState(t, engine, entity.SyncStateSynced)
	require.Equal(t, 2, dialer.connCount())
	second := dialer.current()

	eventually(t, func() bool {
		msgs := engine.GetMessages("r1")
		return len(msgs) == 1 && msgs[0].ID == lostActive.ID && msgs[0].IsRead
	}, "active room window not resynced")
	eventually(t, func() bool {
		rooms := engine.ListRooms()
		return len(rooms) == 2 && rooms[0].ID == "r2" && rooms[0].LastMessage == lostOther.Content
	}, "directory not resynced")
	eventually(t, func() bool {
		st := engine.Unread()
		return st.Count == 1 && st.Source == entity.UnreadSourceAuthoritative
	}, "unread not resynced")
	assert.Equal(t, []string{"r1"}, second.emitted(repository.EventJoinRoom))
	assert.Nil(t, engine.LastError())
}

func TestIncomingMessageInOtherRoom(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	backend.addRoom("r2", "vendor-2")
	dialer := &fakeDialer{}
	engine := newTestEngine(t, backend, dialer)
	startSynced(t, engine)
	require.NoError(t, engine.OpenRoom("r2"))
	eventually(t, func() bool { return backend.markReadCallsFor("r2") == 1 })

	msg := backend.deliver("r1", "vendor-1", "new bid")
	dialer.current().push(msg)
	dialer.current().push(msg)

	eventually(t, func() bool { return engine.GetUnreadCount() == 1 })
	rooms := engine.ListRooms()
	assert.Equal(t, "r1", rooms[0].ID)
	assert.Len(t, engine.GetMessages("r1"), 1)
	assert.False(t, engine.GetMessages("r1")[0].IsRead)
}

func TestIncomingMessageInActiveRoomIsMarkedRead(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	dialer := &fakeDialer{}
	engine := newTestEngine(t, backend, dialer)
	startSynced(t, engine)
	require.NoError(t, engine.OpenRoom("r1"))
	eventually(t, func() bool { return backend.markReadCallsFor("r1") == 1 })

	msg := backend.deliver("r1", "vendor-1", "are you there?")
	dialer.current().push(msg)

	eventually(t, func() bool {
		msgs := engine.GetMessages("r1")
		return len(msgs) == 1 && msgs[0].IsRead
	})
	eventually(t, func() bool { return backend.markReadCallsFor("r1") == 2 })
	assert.Equal(t, 0, engine.GetUnreadCount())
}

func TestPushForUnknownRoomFetchesDirectory(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	dialer := &fakeDialer{}
	engine := newTestEngine(t, backend, dialer)
	startSynced(t, engine)

	backend.addRoom("r9", "vendor-9")
	msg := backend.deliver("r9", "vendor-9", "I placed a bid")
	dialer.current().push(msg)

	eventually(t, func() bool {
		for _, room := range engine.ListRooms() {
			if room.ID == "r9" && room.JobID == "job-r9" {
				return true
			}
		}
		return false
	})
	assert.Equal(t, "r9", engine.ListRooms()[0].ID)
}

func TestConnectionErrorAfterRetriesThenManualReconnect(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	dialer := &fakeDialer{failAll: true}
	engine := newTestEngine(t, backend, dialer)

	require.NoError(t, engine.Start())
	eventually(t, func() bool { return engine.LastError() != nil })
	assert.Equal(t, entity.SyncStateDisconnected, engine.State())
	assert.True(t, errors.Is(engine.LastError(), errors.CodeTransport))
	assert.Equal(t, 1+testOptions().ReconnectAttempts, dialer.dialCount())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1+testOptions().ReconnectAttempts, dialer.dialCount(), "no retries after terminal error")

	dialer.setFailAll(false)
	require.NoError(t, engine.Reconnect())
	waitForState(t, engine, entity.SyncStateSynced)
	assert.Nil(t, engine.LastError())
}

func TestCreateRoomAlreadyExistsIsSuccess(t *testing.T) {
	backend := newFakeBackend()
	engine := newTestEngine(t, backend, &fakeDialer{})
	startSynced(t, engine)

	first, err := engine.CreateRoom(context.Background(), "job-7", "vendor-3")
	require.NoError(t, err)
	second, err := engine.CreateRoom(context.Background(), "job-7", "vendor-3")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	eventually(t, func() bool { return len(engine.ListRooms()) == 1 })
}

func TestDisposeReleasesMembership(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	dialer := &fakeDialer{}
	engine := newTestEngine(t, backend, dialer)
	startSynced(t, engine)
	require.NoError(t, engine.OpenRoom("r1"))
	conn := dialer.current()
	eventually(t, func() bool { return len(conn.emitted(repository.EventJoinRoom)) == 1 })

	engine.Dispose()

	assert.Equal(t, []string{"r1"}, conn.emitted(repository.EventLeaveRoom))
	assert.True(t, errors.Is(engine.OpenRoom("r1"), errors.CodeDisposed))
}

func TestSubscribeReceivesStateChanges(t *testing.T) {
	backend := newFakeBackend()
	engine := newTestEngine(t, backend, &fakeDialer{})
	changes, cancel := engine.Subscribe()
	defer cancel()

	require.NoError(t, engine.Start())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case change := <-changes:
			if change.State == entity.SyncStateSynced {
				return
			}
		case <-deadline:
			t.Fatal("never observed SYNCED on stateChanged")
		}
	}
}

func TestCloseRoomLeaves(t *testing.T) {
	backend := newFakeBackend()
	backend.addRoom("r1", "vendor-1")
	backend.addRoom("r2", "vendor-2")
	dialer := &fakeDialer{}
	engine := newTestEngine(t, backend, dialer)
	startSynced(t, engine)

	require.NoError(t, engine.OpenRoom("r1"))
	require.NoError(t, engine.OpenRoom("r2"))
	require.NoError(t, engine.CloseRoom())

	conn := dialer.current()
	assert.Equal(t, []string{"r1", "r2"}, conn.emitted(repository.EventJoinRoom))
	assert.Equal(t, []string{"r1", "r2"}, conn.emitted(repository.EventLeaveRoom))
	assert.Equal(t, "", engine.ActiveRoom())
}
