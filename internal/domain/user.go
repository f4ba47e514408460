// Package domain contains entity without logic, just meta-data
package domain

type UserID int64

type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
)

// UserBasic is the public view of a user pushed to friends on presence changes.
// Status and Playing are filled by the presence layer, not by the store.
type UserBasic struct {
	ID       UserID     `json:"id"`
	Username string     `json:"username"`
	Nickname string     `json:"nickname"`
	Status   UserStatus `json:"status"`
	Playing  *Room      `json:"playing,omitempty"`
}

// FriendStatus mirrors the friendship row owned by the external store.
type FriendStatus string

const (
	FriendAccept  FriendStatus = "accept"
	FriendPending FriendStatus = "pending"
	FriendDeny    FriendStatus = "deny"
)

type Friend struct {
	User               UserBasic    `json:"user"`
	Status             FriendStatus `json:"status"`
	CreatedAt          int64        `json:"created_at"`
	UnreadMessageCount int          `json:"unread_message_count"`
}
