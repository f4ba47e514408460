package domain

import "errors"

var (
	ErrNotPlaying                = errors.New("user is not playing")
	ErrPrivateRoomAccessDenied   = errors.New("private room")
	ErrInviteTargetAlreadyInRoom = errors.New("invite target already in room")
	ErrInviteNotFound            = errors.New("invite not found")
	ErrNegotiationFailure        = errors.New("webrtc negotiation failed")
	ErrRegistryRace              = errors.New("presence session changed concurrently")
	ErrRoomNotFound              = errors.New("room not found")
	ErrNotHost                   = errors.New("only the host can change the room")
	ErrUserNotFound              = errors.New("user not found")
	ErrHostNotMember             = errors.New("new host is not in the room")
)
