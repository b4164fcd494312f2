package usecase

// roomSignaler sends join/leave over the push channel. Delivery is best effort.
type roomSignaler interface {
	Join(roomID string)
	Leave(roomID string)
}

// RoomMembership tracks the single active room.
type RoomMembership struct {
	active    string
	transport roomSignaler
}

func NewRoomMembership(transport roomSignaler) *RoomMembership {
	return &RoomMembership{transport: transport}
}

func (m *RoomMembership) Active() string {
	return m.active
}

func (m *RoomMembership) IsActive(roomID string) bool {
	return roomID != "" && m.active == roomID
}

// SetActiveRoom leaves the previous room and joins roomID ("" clears). The local switch
// happens even when the transport is down; the reconnect resync re-joins.
func (m *RoomMembership) SetActiveRoom(roomID string) (previous string, changed bool) {
	previous = m.active
	if previous == roomID {
		return previous, false
	}
	if previous != "" {
		m.transport.Leave(previous)
	}
	m.active = roomID
	if roomID != "" {
		m.transport.Join(roomID)
	}
	return previous, true
}

// Rejoin re-sends join_room for the active room on a fresh connection.
func (m *RoomMembership) Rejoin() {
	if m.active != "" {
		m.transport.Join(m.active)
	}
}
