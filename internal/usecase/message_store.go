package usecase

import (
	"sort"
	"time"

	"bidchat/internal/domain/entity"
)

// InsertResult is the outcome of a store insert. DuplicateIgnored is expected, not an error.
type InsertResult int

const (
	Inserted InsertResult = iota
	DuplicateIgnored
)

type roomMessages struct {
	ordered []*entity.Message
	byID    map[string]*entity.Message
	loaded  bool
}

// MessageStore keeps one ordered, id-deduplicated message list per room.
// Order is (CreatedAt, ID), never arrival order.
type MessageStore struct {
	rooms map[string]*roomMessages
}

func NewMessageStore() *MessageStore {
	return &MessageStore{rooms: make(map[string]*roomMessages)}
}

func (s *MessageStore) room(roomID string) *roomMessages {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &roomMessages{byID: make(map[string]*entity.Message)}
		s.rooms[roomID] = r
	}
	return r
}

// AppendIncoming inserts a push-delivered message.
func (s *MessageStore) AppendIncoming(msg *entity.Message) InsertResult {
	return s.insert(msg)
}

// AppendOutgoing inserts a server-confirmed message from our own send.
func (s *MessageStore) AppendOutgoing(msg *entity.Message) InsertResult {
	return s.insert(msg)
}

func (s *MessageStore) insert(msg *entity.Message) InsertResult {
	r := s.room(msg.RoomID)
	if _, exists := r.byID[msg.ID]; exists {
		return DuplicateIgnored
	}

	stored := msg.Clone()
	idx := sort.Search(len(r.ordered), func(i int) bool {
		return stored.Before(r.ordered[i])
	})
	r.ordered = append(r.ordered, nil)
	copy(r.ordered[idx+1:], r.ordered[idx:])
	r.ordered[idx] = stored
	r.byID[stored.ID] = stored
	return Inserted
}

// MergeWindow merges a pulled window into the room. Known ids keep their stored content;
// only the read flag may advance from false to true.
func (s *MessageStore) MergeWindow(roomID string, window []*entity.Message) int {
	r := s.room(roomID)
	r.loaded = true

	inserted := 0
	for _, msg := range window {
		if msg == nil || msg.ID == "" {
			continue
		}
		if msg.RoomID == "" {
			msg = msg.Clone()
			msg.RoomID = roomID
		}
		if existing, ok := r.byID[msg.ID]; ok {
			if msg.IsRead && !existing.IsRead {
				readAt := time.Now()
				if msg.ReadAt != nil {
					readAt = *msg.ReadAt
				}
				existing.MarkRead(readAt)
			}
			continue
		}
		if s.insert(msg) == Inserted {
			inserted++
		}
	}
	return inserted
}

// Messages returns a copy of the room's ordered messages.
func (s *MessageStore) Messages(roomID string) []*entity.Message {
	r, ok := s.rooms[roomID]
	if !ok {
		return []*entity.Message{}
	}
	out := make([]*entity.Message, len(r.ordered))
	for i, msg := range r.ordered {
		out[i] = msg.Clone()
	}
	return out
}

// Latest returns the newest message of the room, or nil.
func (s *MessageStore) Latest(roomID string) *entity.Message {
	r, ok := s.rooms[roomID]
	if !ok || len(r.ordered) == 0 {
		return nil
	}
	return r.ordered[len(r.ordered)-1].Clone()
}

// Loaded reports whether a pulled window was ever merged for the room.
func (s *MessageStore) Loaded(roomID string) bool {
	r, ok := s.rooms[roomID]
	return ok && r.loaded
}

// MarkRoomRead flips every unread peer message of the room and returns how many changed.
// Our own messages are left alone: their flag tracks the peer's reading.
func (s *MessageStore) MarkRoomRead(roomID, selfID string, at time.Time) int {
	r, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	flipped := 0
	for _, msg := range r.ordered {
		if msg.SenderID == selfID {
			continue
		}
		if msg.MarkRead(at) {
			flipped++
		}
	}
	return flipped
}

// UnreadFromPeers counts unread messages in the room not sent by selfID.
func (s *MessageStore) UnreadFromPeers(roomID, selfID string) int {
	r, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	n := 0
	for _, msg := range r.ordered {
		if !msg.IsRead && msg.SenderID != selfID {
			n++
		}
	}
	return n
}
