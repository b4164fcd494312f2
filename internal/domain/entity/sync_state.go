package entity

import "time"

type SyncState string

const (
	SyncStateUnauthenticated SyncState = "UNAUTHENTICATED"
	SyncStateConnecting      SyncState = "CONNECTING"
	SyncStateSynced          SyncState = "SYNCED"
	SyncStateDegraded        SyncState = "DEGRADED"
	SyncStateDisconnected    SyncState = "DISCONNECTED"
)

// Online reports whether the push channel is believed to be up.
func (s SyncState) Online() bool {
	return s == SyncStateSynced || s == SyncStateDegraded
}

type UnreadSource string

const (
	UnreadSourceAuthoritative UnreadSource = "authoritative"
	UnreadSourceDerived       UnreadSource = "derived"
)

type UnreadState struct {
	Count  int          `json:"count"`
	Source UnreadSource `json:"source"`
}

// StateChange is published to subscribers whenever a snapshot they may render has changed.
type StateChange struct {
	State  SyncState `json:"state"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
