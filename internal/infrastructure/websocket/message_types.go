package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"bidchat/internal/domain/entity"
	"bidchat/internal/domain/repository"
)

// Keepalive frames the server may interleave with events.
const (
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
	MessageTypeError = "error"
)

// WSMessage is the frame envelope shared with the marketplace push server.
type WSMessage struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type RoomData struct {
	ChatID string `json:"chat_id"`
}

type ErrorData struct {
	Error string `json:"error"`
}

var errMissingMessageID = errors.New("new_message frame without message id")

// encodeFrame builds the outbound frame for event. Room events carry the id both in
// chat_id and in data, matching the two formats the server accepts.
func encodeFrame(event string, payload interface{}) ([]byte, error) {
	frame := WSMessage{
		Type:      event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	switch event {
	case repository.EventJoinRoom, repository.EventLeaveRoom:
		if roomID, ok := payload.(string); ok {
			frame.ChatID = roomID
			payload = RoomData{ChatID: roomID}
		}
	case repository.EventMessageSent:
		if msg, ok := payload.(*entity.Message); ok && msg != nil {
			frame.ChatID = msg.RoomID
		}
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		frame.Data = data
	}

	return json.Marshal(frame)
}

// decodeNewMessage extracts the inbound message from a new_message frame.
// It returns nil for frames that are not new_message events.
func decodeNewMessage(raw []byte) (*entity.InboundMessage, error) {
	var frame WSMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if frame.Type != repository.EventNewMessage {
		return nil, nil
	}

	var inbound entity.InboundMessage
	if err := json.Unmarshal(frame.Data, &inbound); err != nil {
		return nil, err
	}
	// Servers that send the bare message as data.
	if inbound.Message == nil {
		var msg entity.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return nil, err
		}
		inbound.Message = &msg
	}
	if inbound.Message.ID == "" {
		return nil, errMissingMessageID
	}

	if inbound.RoomID == "" {
		inbound.RoomID = frame.ChatID
	}
	if inbound.RoomID == "" {
		inbound.RoomID = inbound.Message.RoomID
	}
	if inbound.Message.RoomID == "" {
		inbound.Message.RoomID = inbound.RoomID
	}
	return &inbound, nil
}
