package repository

import (
	"context"

	"bidchat/internal/domain/entity"
)

// Push channel event names.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventMessageSent = "message_sent"
	EventNewMessage  = "new_message"
)

// PushDialer opens one push connection, authenticated at connect time with the session token.
type PushDialer interface {
	Dial(ctx context.Context, session *entity.Session) (PushConn, error)
}

// PushConn is a live push connection. Receive blocks until an inbound event arrives or the
// connection fails; Emit queues an outbound event without blocking.
type PushConn interface {
	Emit(event string, payload interface{}) error
	Receive() (*entity.InboundMessage, error)
	Close() error
}

// SessionResolver turns an opaque credential into a Session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*entity.Session, error)
}
