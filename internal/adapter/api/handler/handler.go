package handler

import (
	"context"

	"bidchat/internal/domain/entity"
)

// SyncEngine is the façade surface the bridge exposes.
type SyncEngine interface {
	State() entity.SyncState
	Unread() entity.UnreadState
	ActiveRoom() string
	LastError() error

	ListRooms() []*entity.ChatRoom
	CreateRoom(ctx context.Context, jobID, vendorID string) (*entity.ChatRoom, error)
	OpenRoom(roomID string) error
	CloseRoom() error
	MarkRoomRead(roomID string) error
	GetMessages(roomID string) []*entity.Message
	Send(ctx context.Context, content string, msgType entity.MessageType) (*entity.Message, error)
	Reconnect() error

	Subscribe() (<-chan entity.StateChange, func())
}

var (
	chatHandler      *ChatHandler
	healthHandler    *HealthHandler
	websocketHandler *WebSocketHandler
)

func Setup(engine SyncEngine) {
	chatHandler = NewChatHandler(engine)
	healthHandler = NewHealthHandler(engine)
	websocketHandler = NewWebSocketHandler(engine)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return websocketHandler
}

type stateSnapshot struct {
	State      entity.SyncState   `json:"state"`
	Unread     entity.UnreadState `json:"unread"`
	ActiveRoom string             `json:"active_room,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
}

func snapshot(engine SyncEngine) stateSnapshot {
	s := stateSnapshot{
		State:      engine.State(),
		Unread:     engine.Unread(),
		ActiveRoom: engine.ActiveRoom(),
	}
	if err := engine.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}
