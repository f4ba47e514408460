package domain

type EventKind string

const (
	KindNewMessage      EventKind = "new_message"
	KindNewGame         EventKind = "new_game"
	KindRoomUpdated     EventKind = "update_room"
	KindRoomDeleted     EventKind = "delete_room"
	KindNewInvite       EventKind = "new_invite"
	KindInviteDeleted   EventKind = "delete_invite"
	KindFriendApplied   EventKind = "apply_friend"
	KindFriendAccepted  EventKind = "accept_friend"
	KindFriendDeleted   EventKind = "delete_friend"
	KindUserUpdated     EventKind = "update_user"
	KindSignal          EventKind = "send_signal"
	KindVoiceSignal     EventKind = "voice_signal"
	KindLoginPing       EventKind = "login"
	KindFavoriteChanged EventKind = "favorite"
)

// NotifyEvent is one variant of the event union delivered over a user's stream.
type NotifyEvent interface {
	Kind() EventKind
}

type NewMessage struct {
	Message Message `json:"message"`
}

type NewGame struct {
	Game Game `json:"game"`
}

type RoomUpdated struct {
	Room Room `json:"room"`
}

type RoomDeleted struct {
	RoomID RoomID `json:"room_id"`
}

type NewInvite struct {
	Invite Invite `json:"invite"`
	Room   Room   `json:"room"`
}

type InviteDeleted struct {
	InviteID InviteID `json:"invite_id"`
}

type FriendApplied struct {
	Friend Friend `json:"friend"`
}

type FriendAccepted struct {
	Friend Friend `json:"friend"`
}

type FriendDeleted struct {
	UserID UserID `json:"user_id"`
}

type UserUpdated struct {
	User UserBasic `json:"user"`
}

// Signal is peer-to-peer netplay signaling relayed from UserID.
type Signal struct {
	UserID UserID `json:"user_id"`
	JSON   string `json:"json"`
}

// VoiceSignal carries SDP or ICE from the room's voice relay.
type VoiceSignal struct {
	RoomID RoomID `json:"room_id"`
	JSON   string `json:"json"`
}

type LoginPing struct{}

type FavoriteChanged struct {
	GameID   GameID `json:"game_id"`
	Favorite bool   `json:"favorite"`
}

func (NewMessage) Kind() EventKind      { return KindNewMessage }
func (NewGame) Kind() EventKind         { return KindNewGame }
func (RoomUpdated) Kind() EventKind     { return KindRoomUpdated }
func (RoomDeleted) Kind() EventKind     { return KindRoomDeleted }
func (NewInvite) Kind() EventKind       { return KindNewInvite }
func (InviteDeleted) Kind() EventKind   { return KindInviteDeleted }
func (FriendApplied) Kind() EventKind   { return KindFriendApplied }
func (FriendAccepted) Kind() EventKind  { return KindFriendAccepted }
func (FriendDeleted) Kind() EventKind   { return KindFriendDeleted }
func (UserUpdated) Kind() EventKind     { return KindUserUpdated }
func (Signal) Kind() EventKind          { return KindSignal }
func (VoiceSignal) Kind() EventKind     { return KindVoiceSignal }
func (LoginPing) Kind() EventKind       { return KindLoginPing }
func (FavoriteChanged) Kind() EventKind { return KindFavoriteChanged }
