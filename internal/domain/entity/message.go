package entity

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeSystem MessageType = "SYSTEM"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

type Message struct {
	ID        string      `json:"id" firestore:"id"`
	RoomID    string      `json:"room_id" firestore:"roomId"`
	SenderID  string      `json:"sender_id" firestore:"senderId"`
	Content   string      `json:"content" firestore:"content"`
	Type      MessageType `json:"type" firestore:"type"`
	IsRead    bool        `json:"is_read" firestore:"isRead"`
	ReadAt    *time.Time  `json:"read_at,omitempty" firestore:"readAt,omitempty"`
	CreatedAt time.Time   `json:"created_at" firestore:"createdAt"`
}

// Before reports whether m sorts ahead of other: by CreatedAt, then by ID.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// MarkRead flips the read flag. It returns false if the message was already read.
func (m *Message) MarkRead(at time.Time) bool {
	if m.IsRead {
		return false
	}
	m.IsRead = true
	readAt := at
	m.ReadAt = &readAt
	return true
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.ReadAt != nil {
		readAt := *m.ReadAt
		c.ReadAt = &readAt
	}
	return &c
}
