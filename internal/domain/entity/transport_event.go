package entity

type TransportEventType string

const (
	TransportConnected       TransportEventType = "connected"
	TransportDisconnected    TransportEventType = "disconnected"
	TransportReconnecting    TransportEventType = "reconnecting"
	TransportConnectionError TransportEventType = "connection_error"
	TransportInbound         TransportEventType = "inbound"
)

// InboundMessage is the payload of a new_message push event.
type InboundMessage struct {
	RoomID  string   `json:"room_id"`
	Message *Message `json:"message"`
}

type TransportEvent struct {
	Type    TransportEventType
	Attempt int
	Err     error
	Inbound *InboundMessage
}
