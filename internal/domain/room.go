package domain

import "time"

type (
	RoomID int64
	GameID int64
)

type Room struct {
	ID         RoomID    `json:"id"`
	GameID     GameID    `json:"game_id"`
	Host       UserID    `json:"host"`
	Private    bool      `json:"private"`
	Screenshot string    `json:"screenshot,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoomEdit carries the host-editable fields of a room.
// Zero or nil fields keep their current value.
type RoomEdit struct {
	GameID  GameID `json:"game_id,omitempty"`
	Private *bool  `json:"private,omitempty"`
	Host    UserID `json:"host,omitempty"`
}

// RoomView is a room with the online members currently playing in it.
type RoomView struct {
	Room
	Users []UserBasic `json:"users"`
}
