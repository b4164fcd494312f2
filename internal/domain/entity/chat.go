package entity

import "time"

type RoomStatus string

const (
	RoomStatusActive   RoomStatus = "ACTIVE"
	RoomStatusArchived RoomStatus = "ARCHIVED"
	RoomStatusBlocked  RoomStatus = "BLOCKED"
)

// ChatRoom is the one-to-one conversation for a (job, vendor) pair.
type ChatRoom struct {
	ID                  string     `json:"id" firestore:"id"`
	JobID               string     `json:"job_id" firestore:"jobId"`
	CustomerID          string     `json:"customer_id" firestore:"customerId"`
	VendorID            string     `json:"vendor_id" firestore:"vendorId"`
	Status              RoomStatus `json:"status" firestore:"status"`
	LastMessageAt       time.Time  `json:"last_message_at" firestore:"lastMessageAt"`
	LastMessage         string     `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	ParticipantsSummary string     `json:"participants_summary,omitempty" firestore:"participantsSummary,omitempty"`
	UnreadCount         int        `json:"unread_count" firestore:"-"`
}

func (r *ChatRoom) Clone() *ChatRoom {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// HasParticipant reports whether userID is the customer or the vendor of the room.
func (r *ChatRoom) HasParticipant(userID string) bool {
	return r.CustomerID == userID || r.VendorID == userID
}

// RoomIDFor is the deterministic room id for a (job, vendor) pair.
func RoomIDFor(jobID, vendorID string) string {
	return jobID + "_" + vendorID
}
