package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/RetroHub/internal/app"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// inbound is one client frame. Voice kinds carry RoomID, netplay signals carry TargetID.
type inbound struct {
	Kind     string        `json:"kind"`
	RoomID   domain.RoomID `json:"room_id,omitempty"`
	TargetID domain.UserID `json:"target_id,omitempty"`
	Muted    bool          `json:"muted,omitempty"`
	JSON     string        `json:"json,omitempty"`
}

func (ctl *SignalWSController) writePump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn, sub *app.Subscription) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		c.Close()
	}()

	for {
		var data []byte
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump ctx done")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			b, err := EncodeEvent(ev)
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("event", string(ev.Kind())).Msg("encode event")
				continue
			}
			data = b
		case b, ok := <-c.send:
			if !ok {
				return
			}
			data = b
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump ping")
				return
			}
			continue
		}

		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump write error")
			return
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn, sub *app.Subscription) {
	user := sub.User()
	defer func() {
		log.Info().Str("module", "signal").Int64("user", int64(user)).Str("conn", c.id).Uint64("lagged", sub.Lagged()).Msg("readPump closing")
		cancel()
		sub.Close()
		c.Close()
		ctl.limiter.Forget()
	}()

	pongWait := 2 * ctl.opts.PingPeriod
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleFrame(ctx, user, c, data)
	}
}

func (ctl *SignalWSController) handleFrame(ctx context.Context, user domain.UserID, c *WsSignalConn, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "", "bad_payload")
		return
	}

	switch in.Kind {
	case "ping":
		ctl.handlePing(c)
	case string(domain.VoiceOffer), string(domain.VoiceAnswer), string(domain.VoiceICE):
		ctl.handleVoice(ctx, user, c, in)
	case "signal":
		ctl.handleNetplay(user, c, in)
	case "mute", "unmute":
		ctl.handleMute(user, c, in.Kind == "mute")
	default:
		log.Warn().Str("module", "signal").Str("kind", in.Kind).Msg("unknown signal")
		ctl.sendError(c, in.Kind, "unknown_kind")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", c.id).Msg("sendJSON dropped")
	}
}
