package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
	"bidchat/pkg/errors"
	"bidchat/pkg/logger"
)

const maxResponseBody = 4 << 20

type restChatBackend struct {
	baseURL     string
	client      *http.Client
	windowLimit int
}

// envelope mirrors the marketplace API response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type unreadCountData struct {
	Count int `json:"count"`
}

type sendMessageRequest struct {
	Content string             `json:"content"`
	Type    entity.MessageType `json:"type"`
}

type createRoomRequest struct {
	JobID    string `json:"job_id"`
	VendorID string `json:"vendor_id"`
}

func NewRestChatBackend(baseURL string, timeout time.Duration, windowLimit int) repository.ChatBackend {
	if windowLimit <= 0 {
		windowLimit = 50
	}
	return &restChatBackend{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: timeout},
		windowLimit: windowLimit,
	}
}

func (b *restChatBackend) FetchRoomList(ctx context.Context, session *entity.Session) ([]*entity.ChatRoom, error) {
	var rooms []*entity.ChatRoom
	if err := b.do(ctx, session, http.MethodGet, "/v1/chats", nil, &rooms); err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []*entity.ChatRoom{}
	}
	return rooms, nil
}

func (b *restChatBackend) FetchUnreadCount(ctx context.Context, session *entity.Session) (int, error) {
	var data unreadCountData
	if err := b.do(ctx, session, http.MethodGet, "/v1/chats/unread-count", nil, &data); err != nil {
		return 0, err
	}
	return data.Count, nil
}

func (b *restChatBackend) FetchMessageWindow(ctx context.Context, session *entity.Session, roomID string) ([]*entity.Message, error) {
	path := fmt.Sprintf("/v1/chats/%s/messages?limit=%s", url.PathEscape(roomID), strconv.Itoa(b.windowLimit))

	var msgs []*entity.Message
	if err := b.do(ctx, session, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if msg.RoomID == "" {
			msg.RoomID = roomID
		}
	}
	return msgs, nil
}

func (b *restChatBackend) SendMessage(ctx context.Context, session *entity.Session, roomID, content string, msgType entity.MessageType) (*entity.Message, error) {
	path := fmt.Sprintf("/v1/chats/%s/messages", url.PathEscape(roomID))

	var msg entity.Message
	if err := b.do(ctx, session, http.MethodPost, path, sendMessageRequest{Content: content, Type: msgType}, &msg); err != nil {
		return nil, err
	}
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}
	return &msg, nil
}

func (b *restChatBackend) MarkRoomRead(ctx context.Context, session *entity.Session, roomID string) error {
	path := fmt.Sprintf("/v1/chats/%s/read", url.PathEscape(roomID))
	return b.do(ctx, session, http.MethodPut, path, nil, nil)
}

// CreateRoom maps 409 to a CONFLICT error, returned together with the existing room when
// it can be found.
func (b *restChatBackend) CreateRoom(ctx context.Context, session *entity.Session, jobID, vendorID string) (*entity.ChatRoom, error) {
	var room entity.ChatRoom
	err := b.do(ctx, session, http.MethodPost, "/v1/chats", createRoomRequest{JobID: jobID, VendorID: vendorID}, &room)
	if err != nil {
		if !errors.Is(err, errors.CodeConflict) {
			return nil, err
		}
		if room.ID != "" {
			return &room, err
		}
		return b.findRoom(ctx, session, jobID, vendorID), err
	}
	return &room, nil
}

// findRoom looks the (job, vendor) room up in the room list. It returns nil when the list
// can't be fetched or doesn't contain it.
func (b *restChatBackend) findRoom(ctx context.Context, session *entity.Session, jobID, vendorID string) *entity.ChatRoom {
	rooms, err := b.FetchRoomList(ctx, session)
	if err != nil {
		logger.Warn("REST: room lookup after conflict failed: %v", err)
		return nil
	}
	for _, room := range rooms {
		if room.JobID == jobID && room.VendorID == vendorID {
			return room
		}
	}
	return nil
}

func (b *restChatBackend) do(ctx context.Context, session *entity.Session, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.BadRequest("Failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return errors.Internal("Failed to build request", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.Token)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.FetchError(method+" "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return errors.FetchError(method+" "+path, err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Warn("REST: undecodable response for %s %s (request %s): %v", method, path, requestID, err)
			return errors.FetchError(method+" "+path, err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest || (len(raw) > 0 && !env.Success) {
		return b.statusError(resp.StatusCode, &env, out, method, path, requestID)
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.FetchError(method+" "+path, err)
		}
	}
	return nil
}

func (b *restChatBackend) statusError(status int, env *envelope, out interface{}, method, path, requestID string) error {
	message := http.StatusText(status)
	code := ""
	if env.Error != nil {
		message = env.Error.Message
		code = env.Error.Code
	}
	logger.Debug("REST: %s %s (request %s) failed with %d %s", method, path, requestID, status, code)

	switch {
	case status == http.StatusConflict || code == errors.CodeConflict:
		if out != nil && len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, out)
		}
		return errors.Conflict(message)
	case status == http.StatusUnauthorized:
		return errors.Unauthorized(message, nil)
	case status == http.StatusForbidden:
		return errors.Forbidden(message, nil)
	case status == http.StatusNotFound:
		return errors.New(errors.CodeNotFound, message, status, nil)
	}
	if code == "" {
		code = errors.CodeInternal
	}
	return errors.FetchError(method+" "+path, errors.New(code, message, status, nil))
}
