package usecase

import (
	"context"
	"time"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
	"bidchat/pkg/errors"
	"bidchat/pkg/logger"
)

// Everything in this file runs on the engine loop.

func (e *SyncEngine) handleTransportEvent(ev entity.TransportEvent) {
	switch ev.Type {
	case entity.TransportConnected:
		e.connected = true
		e.lastErr = nil
		e.setState(entity.SyncStateConnecting, "transport connected")
		e.resync()

	case entity.TransportDisconnected:
		e.connected = false
		e.setState(entity.SyncStateDisconnected, "transport disconnected")

	case entity.TransportReconnecting:
		logger.Info("SyncEngine: reconnect attempt %d", ev.Attempt)
		e.setState(entity.SyncStateConnecting, "reconnecting")

	case entity.TransportConnectionError:
		e.connected = false
		e.lastErr = ev.Err
		logger.Error("SyncEngine: giving up on push channel: %v", ev.Err)
		e.setState(entity.SyncStateDisconnected, "connection error")
		e.notify("connection_error")

	case entity.TransportInbound:
		if ev.Inbound != nil && ev.Inbound.Message != nil {
			e.onInbound(ev.Inbound)
		}
	}
}

// resync is the pull backstop for everything the push path may have missed while down.
func (e *SyncEngine) resync() {
	e.refreshDirectory()
	if active := e.membership.Active(); active != "" {
		e.membership.Rejoin()
		e.loadWindow(active)
		e.markRoomRead(active)
		return
	}
	e.refreshUnread()
}

func (e *SyncEngine) onInbound(in *entity.InboundMessage) {
	msg := in.Message.Clone()
	if msg.RoomID == "" {
		msg.RoomID = in.RoomID
	}

	if e.store.AppendIncoming(msg) == DuplicateIgnored {
		logger.Debug("SyncEngine: duplicate message %s in room %s ignored", msg.ID, msg.RoomID)
		return
	}

	if known := e.directory.Touch(msg.RoomID, msg); !known {
		e.refreshDirectory()
	}

	isActive := e.membership.IsActive(msg.RoomID)
	e.unread.OnIncomingMessage(msg, isActive)
	if !isActive && msg.SenderID != e.session.User.ID {
		e.refreshUnread()
	}
	e.notify("new_message")
}

func (e *SyncEngine) applyOutgoing(msg *entity.Message) {
	if e.store.AppendOutgoing(msg) == DuplicateIgnored {
		logger.Debug("SyncEngine: push echo for %s arrived before send resolved", msg.ID)
	}
	if known := e.directory.Touch(msg.RoomID, msg); !known {
		e.refreshDirectory()
	}
	if err := e.conn.Emit(repository.EventMessageSent, msg); err != nil {
		logger.Debug("SyncEngine: message_sent for %s not emitted: %v", msg.ID, err)
	}
	e.notify("message_sent")
}

func (e *SyncEngine) loadWindow(roomID string) {
	e.loadGen++
	gen := e.loadGen

	go func() {
		ctx, cancel := e.requestContext()
		defer cancel()
		msgs, err := e.backend.FetchMessageWindow(ctx, e.session, roomID)
		e.post(func() { e.applyWindow(roomID, gen, msgs, err) })
	}()
}

func (e *SyncEngine) applyWindow(roomID string, gen uint64, msgs []*entity.Message, err error) {
	if gen != e.loadGen || !e.membership.IsActive(roomID) {
		logger.Debug("SyncEngine: discarding stale window for room %s", roomID)
		return
	}
	if err != nil {
		logger.LogSyncError(roomID, "fetch_window", errors.FetchError("Message window fetch", err))
		return
	}

	e.store.MergeWindow(roomID, msgs)
	// The server-side sweep was issued on open; only the local flags need catching up.
	e.store.MarkRoomRead(roomID, e.session.User.ID, time.Now())
	if latest := e.store.Latest(roomID); latest != nil {
		e.directory.Touch(roomID, latest)
	}
	e.notify("window_loaded")
}

func (e *SyncEngine) markRoomRead(roomID string) {
	e.unread.MarkRoomRead(roomID, time.Now())
	e.notify("room_read")

	go func() {
		ctx, cancel := e.requestContext()
		defer cancel()
		err := e.backend.MarkRoomRead(ctx, e.session, roomID)
		e.post(func() {
			if err != nil {
				logger.LogSyncError(roomID, "mark_read", errors.FetchError("Mark room read", err))
			}
			e.refreshUnread()
		})
	}()
}

// refreshUnread runs the authoritative query. Requests made while one is in flight
// collapse into a single follow-up so the last answer reflects the latest event.
func (e *SyncEngine) refreshUnread() {
	if e.unreadInFlight {
		e.unreadAgain = true
		return
	}
	e.unreadInFlight = true

	go func() {
		ctx, cancel := e.requestContext()
		defer cancel()
		count, err := e.backend.FetchUnreadCount(ctx, e.session)
		e.post(func() { e.applyUnread(count, err) })
	}()
}

func (e *SyncEngine) applyUnread(count int, err error) {
	e.unreadInFlight = false

	if err != nil {
		logger.Warn("SyncEngine: unread query failed, using derived count: %v", errors.FetchError("Unread count", err))
		// Before the first room list there is nothing to derive from; applyRoomList catches up.
		if e.directory.Loaded() {
			e.unread.ApplyDerived(e.membership.Active())
		}
		e.unreadDegraded = true
		if e.state == entity.SyncStateSynced {
			e.setState(entity.SyncStateDegraded, "unread fallback")
		}
	} else {
		e.unread.ApplyAuthoritative(count)
		e.unreadDegraded = false
		if e.state == entity.SyncStateDegraded {
			e.setState(entity.SyncStateSynced, "unread recovered")
		}
	}
	e.notify("unread")

	if e.unreadAgain {
		e.unreadAgain = false
		e.refreshUnread()
	}
}

func (e *SyncEngine) refreshDirectory() {
	if e.roomsInFlight {
		e.roomsAgain = true
		return
	}
	e.roomsInFlight = true

	go func() {
		ctx, cancel := e.requestContext()
		defer cancel()
		rooms, err := e.backend.FetchRoomList(ctx, e.session)
		e.post(func() { e.applyRoomList(rooms, err) })
	}()
}

func (e *SyncEngine) applyRoomList(rooms []*entity.ChatRoom, err error) {
	e.roomsInFlight = false

	if err != nil {
		logger.Warn("SyncEngine: %v", errors.FetchError("Room list", err))
	} else {
		e.directory.Replace(rooms)
		if e.unreadDegraded {
			e.unread.ApplyDerived(e.membership.Active())
		}
		if e.connected && e.state == entity.SyncStateConnecting {
			if e.unreadDegraded {
				e.setState(entity.SyncStateDegraded, "initial sync with unread fallback")
			} else {
				e.setState(entity.SyncStateSynced, "initial sync")
			}
		}
		e.notify("rooms")
	}

	if e.roomsAgain {
		e.roomsAgain = false
		e.refreshDirectory()
	}
}

func (e *SyncEngine) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, e.opts.RequestTimeout)
}

func (e *SyncEngine) setState(state entity.SyncState, reason string) {
	if e.state == state {
		return
	}
	logger.Info("SyncEngine: %s -> %s (%s)", e.state, state, reason)
	e.state = state
	e.notify(reason)
}

func (e *SyncEngine) notify(reason string) {
	change := entity.StateChange{State: e.state, Reason: reason, At: time.Now()}
	for _, ch := range e.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
}
