package domain

import "time"

// PlayingRecord links a user to the room they currently occupy.
// There is at most one per user.
type PlayingRecord struct {
	UserID    UserID
	RoomID    RoomID
	CreatedAt time.Time
}
