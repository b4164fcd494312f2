package usecase

import (
	"time"

	"bidchat/internal/domain/entity"
)

// UnreadAccounting owns the global unread counter. The authoritative path replaces it with
// the server's answer; the derived path recomputes it from the store and directory when
// that query fails. The source tag always says which one produced the current value.
type UnreadAccounting struct {
	selfID    string
	store     *MessageStore
	directory *RoomDirectory
	state     entity.UnreadState

	markReadDelay time.Duration
	afterFunc     func(time.Duration, func())
	markRead      func(roomID string)
}

func NewUnreadAccounting(selfID string, store *MessageStore, directory *RoomDirectory, markReadDelay time.Duration) *UnreadAccounting {
	return &UnreadAccounting{
		selfID:        selfID,
		store:         store,
		directory:     directory,
		state:         entity.UnreadState{Source: entity.UnreadSourceDerived},
		markReadDelay: markReadDelay,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		markRead: func(string) {},
	}
}

func (u *UnreadAccounting) Count() int {
	return u.state.Count
}

func (u *UnreadAccounting) State() entity.UnreadState {
	return u.state
}

// OnIncomingMessage accounts for a newly inserted message. Messages in the active room are
// marked read after a short delay so they render first; anything else from a peer bumps
// the local count until the next authoritative answer.
func (u *UnreadAccounting) OnIncomingMessage(msg *entity.Message, isActiveRoom bool) {
	if isActiveRoom {
		roomID := msg.RoomID
		u.afterFunc(u.markReadDelay, func() { u.markRead(roomID) })
		return
	}
	if msg.SenderID == u.selfID || msg.IsRead {
		return
	}
	u.state.Count++
	u.directory.IncrementUnread(msg.RoomID)
}

// MarkRoomRead applies a read sweep locally. The count drops only by the room's directory
// counter; messages that arrived while the room was active were never counted.
func (u *UnreadAccounting) MarkRoomRead(roomID string, at time.Time) int {
	u.store.MarkRoomRead(roomID, u.selfID, at)
	cleared := u.directory.ClearUnread(roomID)
	u.decrement(cleared)
	return cleared
}

// ApplyAuthoritative replaces the count with the server's answer.
func (u *UnreadAccounting) ApplyAuthoritative(count int) {
	if count < 0 {
		count = 0
	}
	u.state = entity.UnreadState{Count: count, Source: entity.UnreadSourceAuthoritative}
}

// ApplyDerived recomputes the count client-side, skipping the active room. Rooms with a
// loaded window are counted from message flags, the rest from their directory counter.
func (u *UnreadAccounting) ApplyDerived(activeRoomID string) {
	total := 0
	for _, room := range u.directory.List() {
		if room.ID == activeRoomID {
			continue
		}
		if u.store.Loaded(room.ID) {
			total += u.store.UnreadFromPeers(room.ID, u.selfID)
		} else {
			total += room.UnreadCount
		}
	}
	u.state = entity.UnreadState{Count: total, Source: entity.UnreadSourceDerived}
}

func (u *UnreadAccounting) decrement(n int) {
	if n <= 0 {
		return
	}
	u.state.Count -= n
	if u.state.Count < 0 {
		u.state.Count = 0
	}
}
