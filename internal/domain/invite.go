package domain

import "time"

type InviteID int64

// Invite is unique per (SenderID, TargetID) pair.
type Invite struct {
	ID        InviteID  `json:"id"`
	RoomID    RoomID    `json:"room_id"`
	SenderID  UserID    `json:"user_id"`
	TargetID  UserID    `json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
