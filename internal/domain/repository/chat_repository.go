package repository

import (
	"context"

	"bidchat/internal/domain/entity"
)

// ChatBackend is the pull side of the marketplace chat: list, fetch, send and mark-read.
// Implementations must report "room already exists" from CreateRoom as a CONFLICT app error
// (optionally alongside the existing room) so callers can treat it as success.
type ChatBackend interface {
	FetchRoomList(ctx context.Context, session *entity.Session) ([]*entity.ChatRoom, error)
	FetchUnreadCount(ctx context.Context, session *entity.Session) (int, error)
	FetchMessageWindow(ctx context.Context, session *entity.Session, roomID string) ([]*entity.Message, error)
	SendMessage(ctx context.Context, session *entity.Session, roomID, content string, msgType entity.MessageType) (*entity.Message, error)
	MarkRoomRead(ctx context.Context, session *entity.Session, roomID string) error
	CreateRoom(ctx context.Context, session *entity.Session, jobID, vendorID string) (*entity.ChatRoom, error)
}
