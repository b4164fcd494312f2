package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
	"bidchat/pkg/errors"
	"bidchat/pkg/logger"
)

const (
	roomsCollection    = "chat_rooms"
	messagesCollection = "messages"
)

// roomDoc is the stored form of a room. Per-user unread counters live on the room so
// the room list and the unread total need no message scans.
type roomDoc struct {
	ID                  string            `firestore:"id"`
	JobID               string            `firestore:"jobId"`
	CustomerID          string            `firestore:"customerId"`
	VendorID            string            `firestore:"vendorId"`
	Status              entity.RoomStatus `firestore:"status"`
	Participants        []string          `firestore:"participants"`
	Unread              map[string]int    `firestore:"unread"`
	LastMessageAt       time.Time         `firestore:"lastMessageAt"`
	LastMessage         string            `firestore:"lastMessage"`
	ParticipantsSummary string            `firestore:"participantsSummary"`
	CreatedAt           time.Time         `firestore:"createdAt"`
}

func (d *roomDoc) toEntity(userID string) *entity.ChatRoom {
	return &entity.ChatRoom{
		ID:                  d.ID,
		JobID:               d.JobID,
		CustomerID:          d.CustomerID,
		VendorID:            d.VendorID,
		Status:              d.Status,
		LastMessageAt:       d.LastMessageAt,
		LastMessage:         d.LastMessage,
		ParticipantsSummary: d.ParticipantsSummary,
		UnreadCount:         d.Unread[userID],
	}
}

func (d *roomDoc) peerOf(userID string) string {
	if d.CustomerID == userID {
		return d.VendorID
	}
	return d.CustomerID
}

type firestoreChatBackend struct {
	client      *firestore.Client
	windowLimit int
}

func NewFirestoreChatBackend(client *firestore.Client, windowLimit int) repository.ChatBackend {
	if windowLimit <= 0 {
		windowLimit = 50
	}
	return &firestoreChatBackend{
		client:      client,
		windowLimit: windowLimit,
	}
}

func (r *firestoreChatBackend) rooms() *firestore.CollectionRef {
	return r.client.Collection(roomsCollection)
}

func (r *firestoreChatBackend) FetchRoomList(ctx context.Context, session *entity.Session) ([]*entity.ChatRoom, error) {
	docs, err := r.userRooms(ctx, session.User.ID)
	if err != nil {
		return nil, err
	}
	rooms := make([]*entity.ChatRoom, 0, len(docs))
	for _, doc := range docs {
		rooms = append(rooms, doc.toEntity(session.User.ID))
	}
	return rooms, nil
}

func (r *firestoreChatBackend) FetchUnreadCount(ctx context.Context, session *entity.Session) (int, error) {
	docs, err := r.userRooms(ctx, session.User.ID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, doc := range docs {
		total += doc.Unread[session.User.ID]
	}
	return total, nil
}

func (r *firestoreChatBackend) userRooms(ctx context.Context, userID string) ([]*roomDoc, error) {
	iter := r.rooms().Where("participants", "array-contains", userID).Documents(ctx)
	defer iter.Stop()

	var rooms []*roomDoc
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.FetchError("Room list", err)
		}

		var room roomDoc
		if err := doc.DataTo(&room); err != nil {
			logger.Warn("Firestore: skipping malformed room %s: %v", doc.Ref.ID, err)
			continue
		}
		room.ID = doc.Ref.ID
		rooms = append(rooms, &room)
	}
	return rooms, nil
}

// FetchMessageWindow returns the newest messages of the room in ascending order.
func (r *firestoreChatBackend) FetchMessageWindow(ctx context.Context, session *entity.Session, roomID string) ([]*entity.Message, error) {
	if _, err := r.participantRoom(ctx, roomID, session.User.ID); err != nil {
		return nil, err
	}

	iter := r.rooms().Doc(roomID).Collection(messagesCollection).
		OrderBy("createdAt", firestore.Desc).
		Limit(r.windowLimit).
		Documents(ctx)
	defer iter.Stop()

	msgs := []*entity.Message{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.FetchError("Message window", err)
		}

		var msg entity.Message
		if err := doc.DataTo(&msg); err != nil {
			logger.Warn("Firestore: skipping malformed message %s in room %s: %v", doc.Ref.ID, roomID, err)
			continue
		}
		msg.ID = doc.Ref.ID
		msg.RoomID = roomID
		msgs = append(msgs, &msg)
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	return msgs, nil
}

// SendMessage writes the message and bumps the room summary and the peer's unread counter
// in one transaction.
func (r *firestoreChatBackend) SendMessage(ctx context.Context, session *entity.Session, roomID, content string, msgType entity.MessageType) (*entity.Message, error) {
	roomRef := r.rooms().Doc(roomID)
	msg := &entity.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  session.User.ID,
		Content:   content,
		Type:      msgType,
		CreatedAt: time.Now().UTC(),
	}

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(roomRef)
		if err != nil {
			return err
		}
		var room roomDoc
		if err := snap.DataTo(&room); err != nil {
			return err
		}
		if room.CustomerID != session.User.ID && room.VendorID != session.User.ID {
			return errors.Forbidden("Not a participant of this room", nil)
		}
		if room.Status != entity.RoomStatusActive {
			return errors.Forbidden("Room is not active", nil)
		}

		if err := tx.Create(roomRef.Collection(messagesCollection).Doc(msg.ID), msg); err != nil {
			return err
		}
		return tx.Update(roomRef, []firestore.Update{
			{Path: "lastMessageAt", Value: msg.CreatedAt},
			{Path: "lastMessage", Value: content},
			{FieldPath: firestore.FieldPath{"unread", room.peerOf(session.User.ID)}, Value: firestore.Increment(1)},
		})
	})
	if err != nil {
		return nil, r.translate("Send message", err)
	}
	return msg, nil
}

// MarkRoomRead flips the peer's unread messages and zeroes the caller's counter.
func (r *firestoreChatBackend) MarkRoomRead(ctx context.Context, session *entity.Session, roomID string) error {
	roomRef := r.rooms().Doc(roomID)
	now := time.Now().UTC()

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(roomRef); err != nil {
			return err
		}

		query := roomRef.Collection(messagesCollection).Where("isRead", "==", false)
		iter := tx.Documents(query)
		defer iter.Stop()

		var unread []*firestore.DocumentRef
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return err
			}
			if sender, _ := doc.DataAt("senderId"); sender == session.User.ID {
				continue
			}
			unread = append(unread, doc.Ref)
		}

		for _, ref := range unread {
			if err := tx.Update(ref, []firestore.Update{
				{Path: "isRead", Value: true},
				{Path: "readAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return tx.Update(roomRef, []firestore.Update{
			{FieldPath: firestore.FieldPath{"unread", session.User.ID}, Value: 0},
		})
	})
	if err != nil {
		return r.translate("Mark room read", err)
	}
	return nil
}

// CreateRoom creates the (job, vendor) room under its deterministic id. An existing room
// is reported as CONFLICT together with the stored room.
func (r *firestoreChatBackend) CreateRoom(ctx context.Context, session *entity.Session, jobID, vendorID string) (*entity.ChatRoom, error) {
	if session.User.Role == entity.RoleVendor {
		return nil, errors.Forbidden("Only the job's customer can open a room", nil)
	}

	now := time.Now().UTC()
	room := &roomDoc{
		ID:           entity.RoomIDFor(jobID, vendorID),
		JobID:        jobID,
		CustomerID:   session.User.ID,
		VendorID:     vendorID,
		Status:       entity.RoomStatusActive,
		Participants: []string{session.User.ID, vendorID},
		Unread:       map[string]int{session.User.ID: 0, vendorID: 0},
		CreatedAt:    now,
	}

	_, err := r.rooms().Doc(room.ID).Create(ctx, room)
	if err == nil {
		return room.toEntity(session.User.ID), nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return nil, r.translate("Create room", err)
	}

	existing, getErr := r.participantRoom(ctx, room.ID, session.User.ID)
	if getErr != nil {
		return nil, getErr
	}
	return existing.toEntity(session.User.ID), errors.Conflict("Chat room already exists")
}

func (r *firestoreChatBackend) participantRoom(ctx context.Context, roomID, userID string) (*roomDoc, error) {
	snap, err := r.rooms().Doc(roomID).Get(ctx)
	if err != nil {
		return nil, r.translate("Get room", err)
	}
	var room roomDoc
	if err := snap.DataTo(&room); err != nil {
		return nil, errors.FetchError("Parse room", err)
	}
	room.ID = snap.Ref.ID
	if room.CustomerID != userID && room.VendorID != userID {
		return nil, errors.Forbidden("Not a participant of this room", nil)
	}
	return &room, nil
}

func (r *firestoreChatBackend) translate(operation string, err error) error {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch status.Code(err) {
	case codes.NotFound:
		return errors.NotFound("Chat room", err)
	case codes.AlreadyExists:
		return errors.Conflict("Chat room already exists")
	case codes.PermissionDenied:
		return errors.Forbidden(operation+" denied", err)
	case codes.Unauthenticated:
		return errors.Unauthorized(operation+" rejected credentials", err)
	}
	return errors.FetchError(operation, err)
}
