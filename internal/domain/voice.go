package domain

type VoiceMsgKind string

const (
	VoiceOffer  VoiceMsgKind = "offer"
	VoiceAnswer VoiceMsgKind = "answer"
	VoiceICE    VoiceMsgKind = "ice"
)

// VoiceMessage is the inbound voice signaling envelope.
// JSON is an opaque SDP or ICE candidate payload.
type VoiceMessage struct {
	Kind   VoiceMsgKind `json:"kind"`
	RoomID RoomID       `json:"room_id"`
	JSON   string       `json:"json"`
}
