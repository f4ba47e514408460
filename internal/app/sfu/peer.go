package sfu

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/RetroHub/internal/core"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// SdpExt is the outbound SDP payload. SenderTrackIDs lists the user ids
// whose audio the peer currently sends, so the client can label streams.
type SdpExt struct {
	Type           webrtc.SDPType `json:"type"`
	SDP            string         `json:"sdp"`
	SenderTrackIDs []string       `json:"sender_track_ids"`
}

// Peer is the server side of one user's voice connection in one room.
// Track changes are queued and applied by a single negotiation loop,
// one offer/answer round at a time.
type Peer struct {
	relay  *VoiceRelay
	room   domain.RoomID
	user   domain.UserID
	conn   core.MediaConnection
	logger zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	connected atomic.Bool
	closed    atomic.Bool
	// redo forces an offer even when no track changed.
	redo atomic.Bool

	mu sync.Mutex
	// pending holds the latest wanted track per publisher; nil means remove.
	pending  map[domain.UserID]*webrtc.TrackLocalStaticRTP
	kick     chan struct{}
	answered chan struct{}
}

func newPeer(ctx context.Context, relay *VoiceRelay, room domain.RoomID, user domain.UserID, conn core.MediaConnection, logger zerolog.Logger) *Peer {
	// The peer outlives the request that created it.
	peerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Peer{
		relay:    relay,
		room:     room,
		user:     user,
		conn:     conn,
		logger:   logger,
		ctx:      peerCtx,
		cancel:   cancel,
		pending:  make(map[domain.UserID]*webrtc.TrackLocalStaticRTP),
		kick:     make(chan struct{}, 1),
		answered: make(chan struct{}, 1),
	}
}

// enqueue schedules adding (or, with a nil track, removing) publisher's audio.
func (p *Peer) enqueue(publisher domain.UserID, track *webrtc.TrackLocalStaticRTP) bool {
	if p.ctx.Err() != nil {
		return false
	}
	p.mu.Lock()
	p.pending[publisher] = track
	p.mu.Unlock()
	p.wake()
	return true
}

// retry schedules a fresh offer for the current tracks.
func (p *Peer) retry() {
	p.redo.Store(true)
	p.wake()
}

func (p *Peer) wake() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Peer) negotiate() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.kick:
		}

		p.mu.Lock()
		batch := p.pending
		p.pending = make(map[domain.UserID]*webrtc.TrackLocalStaticRTP)
		p.mu.Unlock()

		changed := p.apply(batch)
		if !p.redo.Swap(false) && !changed {
			continue
		}

		select {
		case <-p.answered:
		default:
		}
		offer, err := p.conn.CreateAndSetOffer()
		if err != nil {
			if p.ctx.Err() != nil || p.conn.IsClosed() {
				return
			}
			p.logger.Warn().Err(err).Msg("renegotiation offer failed")
			continue
		}
		p.sendDescription(*offer)

		select {
		case <-p.ctx.Done():
			return
		case <-p.answered:
		}
	}
}

// apply reports whether the set of outbound tracks changed.
func (p *Peer) apply(batch map[domain.UserID]*webrtc.TrackLocalStaticRTP) bool {
	changed := false
	for publisher, track := range batch {
		id := TrackID(publisher)
		err := p.conn.RemoveLocalTrack(id)
		switch {
		case err == nil:
			changed = true
		case !errors.Is(err, core.ErrTrackNotFound):
			p.logger.Warn().Err(err).Str("track", id).Msg("remove local track")
		}
		if track == nil {
			continue
		}
		if err := p.conn.AddLocalTrack(track); err != nil {
			p.logger.Warn().Err(err).Str("track", id).Msg("add local track")
			continue
		}
		changed = true
	}
	return changed
}

func (p *Peer) answerArrived() {
	select {
	case p.answered <- struct{}{}:
	default:
	}
}

func (p *Peer) sendDescription(desc webrtc.SessionDescription) {
	payload, err := json.Marshal(SdpExt{
		Type:           desc.Type,
		SDP:            desc.SDP,
		SenderTrackIDs: p.conn.LocalTrackIDs(),
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("encode sdp")
		return
	}
	p.relay.notifier.Notify(p.user, domain.VoiceSignal{RoomID: p.room, JSON: string(payload)})
}

func (p *Peer) handleICECandidate(c webrtc.ICECandidateInit) {
	payload, err := json.Marshal(c)
	if err != nil {
		p.logger.Error().Err(err).Msg("encode candidate")
		return
	}
	p.relay.notifier.Notify(p.user, domain.VoiceSignal{RoomID: p.room, JSON: string(payload)})
}

// handleTrack republishes the user's inbound audio to everyone else in the room.
func (p *Peer) handleTrack(ctx context.Context, codec webrtc.RTPCodecCapability, src core.RTPSource) {
	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(p.user, src, codec, cancel)

	old, subscribers, ok := p.relay.publish(p, relay)
	if !ok {
		cancel()
		return
	}
	if old != nil {
		p.logger.Info().Msg("replacing published track")
		old.Stop()
	}

	logger := p.logger.With().Str("relay", relay.streamID).Logger()
	go relay.loop(relayCtx, &logger)

	for _, sub := range subscribers {
		ot, err := relay.NewOutTrack(sub.user)
		if err != nil {
			logger.Warn().Err(err).Int64("dst", int64(sub.user)).Msg("create out track")
			continue
		}
		if !sub.enqueue(p.user, ot.Track) {
			relay.MarkSubscriberDelete(sub.user)
		}
	}
	logger.Info().Str("codec", codec.MimeType).Int("subscribers", len(subscribers)).Msg("publishing track")
}

func (p *Peer) handleStateChange(s webrtc.PeerConnectionState) {
	p.logger.Debug().Str("state", s.String()).Msg("peer connection state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		p.connected.Store(true)
		p.logger.Info().Msg("voice peer connected")
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		p.close()
	}
}

// close tears the peer down once and detaches its audio from everyone else.
func (p *Peer) close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancel()

	relay, others, otherRelays := p.relay.unregister(p)
	if relay != nil {
		relay.Stop()
	}
	for _, r := range otherRelays {
		r.MarkSubscriberDelete(p.user)
	}
	for _, o := range others {
		o.enqueue(p.user, nil)
	}
	p.conn.Close()
	p.logger.Info().Int("remaining", len(others)).Msg("voice peer closed")
}
