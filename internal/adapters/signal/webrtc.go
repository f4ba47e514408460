package signal

import (
	"context"
	"errors"

	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleVoice(ctx context.Context, user domain.UserID, c *WsSignalConn, in inbound) {
	kind := domain.VoiceMsgKind(in.Kind)
	if kind == domain.VoiceOffer && !ctl.limiter.Allow(user) {
		ctl.sendError(c, in.Kind, "rate_limited")
		return
	}
	err := ctl.Orch.HandleVoiceSignal(ctx, user, domain.VoiceMessage{
		Kind:   kind,
		RoomID: in.RoomID,
		JSON:   in.JSON,
	})
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("module", "signal").Int64("user", int64(user)).Int64("room", int64(in.RoomID)).Str("kind", in.Kind).Msg("voice signal")
	switch {
	case errors.Is(err, domain.ErrNotPlaying):
		ctl.sendError(c, in.Kind, "not_playing")
	default:
		ctl.sendError(c, in.Kind, "negotiation_failed")
	}
}

// handleNetplay relays peer-to-peer game link signaling to another user.
func (ctl *SignalWSController) handleNetplay(user domain.UserID, c *WsSignalConn, in inbound) {
	if in.TargetID == 0 {
		ctl.sendError(c, in.Kind, "bad_payload")
		return
	}
	if !ctl.limiter.Allow(user) {
		ctl.sendError(c, in.Kind, "rate_limited")
		return
	}
	ctl.Orch.RelaySignal(user, in.TargetID, in.JSON)
}

func (ctl *SignalWSController) handleMute(user domain.UserID, c *WsSignalConn, muted bool) {
	if err := ctl.Orch.SetVoiceMuted(user, muted); err != nil {
		log.Debug().Err(err).Str("module", "signal").Int64("user", int64(user)).Msg("mute")
		ctl.sendError(c, "mute", "not_publishing")
	}
}
