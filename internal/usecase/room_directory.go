package usecase

import (
	"sort"

	"bidchat/internal/domain/entity"
)

const previewLimit = 120

// RoomDirectory is the session user's room list, most recent activity first.
type RoomDirectory struct {
	rooms   map[string]*entity.ChatRoom
	ordered []*entity.ChatRoom
	loaded  bool
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{rooms: make(map[string]*entity.ChatRoom)}
}

func (d *RoomDirectory) List() []*entity.ChatRoom {
	out := make([]*entity.ChatRoom, len(d.ordered))
	for i, room := range d.ordered {
		out[i] = room.Clone()
	}
	return out
}

func (d *RoomDirectory) get(roomID string) (*entity.ChatRoom, bool) {
	room, ok := d.rooms[roomID]
	if !ok {
		return nil, false
	}
	return room.Clone(), true
}

// Loaded reports whether an authoritative list has been applied at least once.
func (d *RoomDirectory) Loaded() bool {
	return d.loaded
}

// Replace applies a pulled room list. Pushes that landed after the server built its
// snapshot keep their newer activity; per-room unread counts come from the server.
func (d *RoomDirectory) Replace(rooms []*entity.ChatRoom) {
	next := make(map[string]*entity.ChatRoom, len(rooms))
	for _, room := range rooms {
		if room == nil || room.ID == "" {
			continue
		}
		fresh := room.Clone()
		if local, ok := d.rooms[fresh.ID]; ok && local.LastMessageAt.After(fresh.LastMessageAt) {
			fresh.LastMessageAt = local.LastMessageAt
			fresh.LastMessage = local.LastMessage
		}
		next[fresh.ID] = fresh
	}
	d.rooms = next
	d.loaded = true
	d.resort()
}

// Upsert inserts or replaces a single room.
func (d *RoomDirectory) Upsert(room *entity.ChatRoom) {
	if room == nil || room.ID == "" {
		return
	}
	fresh := room.Clone()
	if local, ok := d.rooms[fresh.ID]; ok && local.LastMessageAt.After(fresh.LastMessageAt) {
		fresh.LastMessageAt = local.LastMessageAt
		fresh.LastMessage = local.LastMessage
	}
	d.rooms[fresh.ID] = fresh
	d.resort()
}

// Touch records activity for roomID and re-sorts. It returns false when the room was
// unknown; a placeholder is inserted and the caller is expected to refresh.
func (d *RoomDirectory) Touch(roomID string, msg *entity.Message) bool {
	room, known := d.rooms[roomID]
	if !known {
		room = &entity.ChatRoom{
			ID:     roomID,
			Status: entity.RoomStatusActive,
		}
		d.rooms[roomID] = room
	}

	if !msg.CreatedAt.Before(room.LastMessageAt) {
		room.LastMessageAt = msg.CreatedAt
		room.LastMessage = preview(msg)
	}
	d.resort()
	return known
}

func (d *RoomDirectory) IncrementUnread(roomID string) {
	if room, ok := d.rooms[roomID]; ok {
		room.UnreadCount++
	}
}

// ClearUnread zeroes the room's counter and returns its previous value.
func (d *RoomDirectory) ClearUnread(roomID string) int {
	room, ok := d.rooms[roomID]
	if !ok {
		return 0
	}
	prev := room.UnreadCount
	room.UnreadCount = 0
	return prev
}

func (d *RoomDirectory) resort() {
	d.ordered = d.ordered[:0]
	for _, room := range d.rooms {
		d.ordered = append(d.ordered, room)
	}
	sort.Slice(d.ordered, func(i, j int) bool {
		a, b := d.ordered[i], d.ordered[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID < b.ID
	})
}

func preview(msg *entity.Message) string {
	switch msg.Type {
	case entity.MessageTypeImage:
		return "[image]"
	case entity.MessageTypeFile:
		return "[file]"
	}
	content := []rune(msg.Content)
	if len(content) > previewLimit {
		return string(content[:previewLimit]) + "…"
	}
	return msg.Content
}
