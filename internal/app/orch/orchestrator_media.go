package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/rs/zerolog/log"
)

// HandleVoiceSignal routes an inbound voice message to the room's relay.
// Offers are accepted only from users currently playing in that room.
func (o *Orchestrator) HandleVoiceSignal(ctx context.Context, user domain.UserID, msg domain.VoiceMessage) error {
	if o.Voice == nil {
		return fmt.Errorf("%w: voice disabled", domain.ErrNegotiationFailure)
	}
	logger := log.With().
		Str("module", "orch.voice").
		Int64("user", int64(user)).
		Int64("room", int64(msg.RoomID)).
		Str("kind", string(msg.Kind)).
		Logger()

	switch msg.Kind {
	case domain.VoiceOffer:
		room, ok := o.Rooms.PlayingOf(user)
		if !ok || room.ID != msg.RoomID {
			return domain.ErrNotPlaying
		}
		logger.Debug().Msg("offer")
		return o.Voice.HandleOffer(ctx, msg.RoomID, user, msg.JSON)
	case domain.VoiceAnswer:
		return o.Voice.HandleAnswer(msg.RoomID, user, msg.JSON)
	case domain.VoiceICE:
		return o.Voice.HandleCandidate(msg.RoomID, user, msg.JSON)
	default:
		logger.Warn().Msg("unknown voice message kind")
		return fmt.Errorf("%w: unknown kind %q", domain.ErrNegotiationFailure, msg.Kind)
	}
}

// SetVoiceMuted pauses or resumes forwarding of the user's audio in their current room.
func (o *Orchestrator) SetVoiceMuted(user domain.UserID, muted bool) error {
	room, ok := o.Rooms.PlayingOf(user)
	if !ok {
		return domain.ErrNotPlaying
	}
	if o.Voice == nil || !o.Voice.SetMuted(room.ID, user, muted) {
		return fmt.Errorf("%w: not publishing", domain.ErrNegotiationFailure)
	}
	return nil
}
