package handler

import (
	"strings"

	"github.com/labstack/echo/v4"

	"bidchat/internal/domain/entity"
	"bidchat/pkg/errors"
	"bidchat/pkg/response"
)

type ChatHandler struct {
	engine SyncEngine
}

func NewChatHandler(engine SyncEngine) *ChatHandler {
	return &ChatHandler{
		engine: engine,
	}
}

type createRoomRequest struct {
	JobID    string `json:"job_id" validate:"required"`
	VendorID string `json:"vendor_id" validate:"required"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
	Type    string `json:"type" validate:"omitempty,oneof=TEXT IMAGE FILE SYSTEM"`
}

// GetState returns the sync state, unread count and active room.
func (h *ChatHandler) GetState(c echo.Context) error {
	return response.Success(c, snapshot(h.engine))
}

func (h *ChatHandler) ListRooms(c echo.Context) error {
	return response.Success(c, h.engine.ListRooms())
}

// CreateRoom opens the room for a job and vendor. An existing room is returned as-is.
func (h *ChatHandler) CreateRoom(c echo.Context) error {
	var req createRoomRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	room, err := h.engine.CreateRoom(c.Request().Context(), req.JobID, req.VendorID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, room)
}

// OpenRoom switches the active room. The window arrives asynchronously.
func (h *ChatHandler) OpenRoom(c echo.Context) error {
	roomID := c.Param("id")
	if err := h.engine.OpenRoom(roomID); err != nil {
		return response.Error(c, err)
	}
	return response.Accepted(c, map[string]string{"active_room": roomID})
}

func (h *ChatHandler) CloseRoom(c echo.Context) error {
	if err := h.engine.CloseRoom(); err != nil {
		return response.Error(c, err)
	}
	return response.Accepted(c, nil)
}

func (h *ChatHandler) MarkRoomRead(c echo.Context) error {
	if err := h.engine.MarkRoomRead(c.Param("id")); err != nil {
		return response.Error(c, err)
	}
	return response.Accepted(c, h.engine.Unread())
}

func (h *ChatHandler) GetMessages(c echo.Context) error {
	return response.Success(c, h.engine.GetMessages(c.Param("id")))
}

// SendMessage posts to the active room and returns the server-confirmed message.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	req.Type = strings.ToUpper(req.Type)
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	msg, err := h.engine.Send(c.Request().Context(), req.Content, entity.MessageType(req.Type))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, msg)
}

func (h *ChatHandler) GetUnread(c echo.Context) error {
	return response.Success(c, h.engine.Unread())
}

func (h *ChatHandler) Reconnect(c echo.Context) error {
	if err := h.engine.Reconnect(); err != nil {
		return response.Error(c, err)
	}
	return response.Accepted(c, map[string]entity.SyncState{"state": h.engine.State()})
}
