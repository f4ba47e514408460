package sfu

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/RetroHub/internal/core"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Notifier delivers events to a user's open streams.
type Notifier interface {
	Notify(user domain.UserID, ev domain.NotifyEvent)
}

// MediaFactory opens a server-side peer connection for user in room.
type MediaFactory func(room domain.RoomID, user domain.UserID) (core.MediaConnection, error)

type voiceRoom struct {
	peers  map[domain.UserID]*Peer
	relays map[domain.UserID]*Relay
}

// VoiceRelay runs one server-side peer per (room, user) and forwards
// every participant's audio to every other participant of the same room.
type VoiceRelay struct {
	newConn  MediaFactory
	notifier Notifier

	mu    sync.Mutex
	rooms map[domain.RoomID]*voiceRoom
}

func NewVoiceRelay(newConn MediaFactory, notifier Notifier) *VoiceRelay {
	return &VoiceRelay{
		newConn:  newConn,
		notifier: notifier,
		rooms:    make(map[domain.RoomID]*voiceRoom),
	}
}

// HandleOffer opens (or replaces) the user's peer and answers the offer.
// The audio of everyone already publishing follows in a server offer.
func (v *VoiceRelay) HandleOffer(ctx context.Context, room domain.RoomID, user domain.UserID, payload string) error {
	logger := log.With().
		Str("module", "sfu.voice").
		Int64("room", int64(room)).
		Int64("user", int64(user)).
		Logger()

	var offer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &offer); err != nil {
		return fmt.Errorf("%w: decode offer: %w", domain.ErrNegotiationFailure, err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: expected offer, got %s", domain.ErrNegotiationFailure, offer.Type)
	}

	if old := v.peer(room, user); old != nil {
		logger.Info().Msg("replacing existing voice peer")
		old.close()
	}

	conn, err := v.newConn(room, user)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNegotiationFailure, err)
	}
	p := newPeer(ctx, v, room, user, conn, logger)
	conn.OnICECandidate(p.handleICECandidate)
	conn.OnTrack(p.handleTrack)
	conn.OnStateChange(p.handleStateChange)
	if err := conn.Start(p.ctx); err != nil {
		p.close()
		return fmt.Errorf("%w: %w", domain.ErrNegotiationFailure, err)
	}

	relays, displaced := v.register(p)
	if displaced != nil {
		displaced.close()
	}

	// The client's offer only has m-lines for its own media, so existing
	// publishers are added by a server offer once this answer is out.
	answer, err := conn.ApplyOffer(offer)
	if err != nil {
		p.close()
		return fmt.Errorf("%w: %w", domain.ErrNegotiationFailure, err)
	}
	p.sendDescription(*answer)

	for _, r := range relays {
		ot, err := r.NewOutTrack(user)
		if err != nil {
			logger.Warn().Err(err).Int64("publisher", int64(r.Publisher)).Msg("create out track")
			continue
		}
		if !p.enqueue(r.Publisher, ot.Track) {
			r.MarkSubscriberDelete(user)
		}
	}
	go p.negotiate()

	logger.Info().Int("tracks", len(relays)).Msg("voice peer answered")
	return nil
}

// HandleAnswer applies the client's answer to a server-initiated offer.
// An answer for a peer that is already gone is ignored.
func (v *VoiceRelay) HandleAnswer(room domain.RoomID, user domain.UserID, payload string) error {
	p := v.peer(room, user)
	if p == nil {
		log.Debug().Str("module", "sfu.voice").Int64("room", int64(room)).Int64("user", int64(user)).Msg("answer for unknown peer")
		return nil
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &answer); err != nil {
		return fmt.Errorf("%w: decode answer: %w", domain.ErrNegotiationFailure, err)
	}
	if err := p.conn.ApplyAnswer(answer); err != nil {
		// release the negotiation loop and offer the current tracks again
		p.answerArrived()
		p.retry()
		return fmt.Errorf("%w: %w", domain.ErrNegotiationFailure, err)
	}
	p.answerArrived()
	return nil
}

// HandleCandidate applies a trickled remote candidate. Candidates racing a teardown are dropped.
func (v *VoiceRelay) HandleCandidate(room domain.RoomID, user domain.UserID, payload string) error {
	p := v.peer(room, user)
	if p == nil {
		return nil
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return fmt.Errorf("%w: decode candidate: %w", domain.ErrNegotiationFailure, err)
	}
	if err := p.conn.AddICECandidate(c); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNegotiationFailure, err)
	}
	return nil
}

// Drop closes the user's peer in room, if any.
func (v *VoiceRelay) Drop(room domain.RoomID, user domain.UserID) {
	if p := v.peer(room, user); p != nil {
		p.close()
	}
}

// CloseRoom closes every peer of room.
func (v *VoiceRelay) CloseRoom(room domain.RoomID) {
	v.mu.Lock()
	var peers []*Peer
	if vr, ok := v.rooms[room]; ok {
		for _, p := range vr.peers {
			peers = append(peers, p)
		}
	}
	v.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

// SetMuted pauses or resumes forwarding of the user's audio. It reports whether the user publishes.
func (v *VoiceRelay) SetMuted(room domain.RoomID, user domain.UserID, muted bool) bool {
	v.mu.Lock()
	var r *Relay
	if vr, ok := v.rooms[room]; ok {
		r = vr.relays[user]
	}
	v.mu.Unlock()
	if r == nil {
		return false
	}
	r.SetMuted(muted)
	return true
}

// Peers lists users with a voice peer in room, connected or still negotiating.
func (v *VoiceRelay) Peers(room domain.RoomID) []domain.UserID {
	return v.users(room, func(*Peer) bool { return true })
}

// Connected lists users whose peer reached the connected state.
func (v *VoiceRelay) Connected(room domain.RoomID) []domain.UserID {
	return v.users(room, func(p *Peer) bool { return p.connected.Load() })
}

func (v *VoiceRelay) users(room domain.RoomID, keep func(*Peer) bool) []domain.UserID {
	v.mu.Lock()
	var out []domain.UserID
	if vr, ok := v.rooms[room]; ok {
		for u, p := range vr.peers {
			if keep(p) {
				out = append(out, u)
			}
		}
	}
	v.mu.Unlock()
	slices.Sort(out)
	return out
}

// RoomCount returns the number of rooms with at least one voice peer.
func (v *VoiceRelay) RoomCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.rooms)
}

func (v *VoiceRelay) peer(room domain.RoomID, user domain.UserID) *Peer {
	v.mu.Lock()
	defer v.mu.Unlock()
	if vr, ok := v.rooms[room]; ok {
		return vr.peers[user]
	}
	return nil
}

// register adds p to its room and snapshots the relays of the other publishers.
func (v *VoiceRelay) register(p *Peer) (relays []*Relay, displaced *Peer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	vr, ok := v.rooms[p.room]
	if !ok {
		vr = &voiceRoom{
			peers:  make(map[domain.UserID]*Peer),
			relays: make(map[domain.UserID]*Relay),
		}
		v.rooms[p.room] = vr
	}
	displaced = vr.peers[p.user]
	vr.peers[p.user] = p
	if displaced != nil {
		// the displaced peer's audio goes with it
		if r, ok := vr.relays[p.user]; ok {
			delete(vr.relays, p.user)
			r.Stop()
		}
	}
	for u, r := range vr.relays {
		if u != p.user {
			relays = append(relays, r)
		}
	}
	return relays, displaced
}

// publish installs relay as p's audio and snapshots the peers that must receive it.
func (v *VoiceRelay) publish(p *Peer, relay *Relay) (old *Relay, subscribers []*Peer, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	vr, found := v.rooms[p.room]
	if !found || vr.peers[p.user] != p {
		return nil, nil, false
	}
	old = vr.relays[p.user]
	vr.relays[p.user] = relay
	for u, other := range vr.peers {
		if u != p.user {
			subscribers = append(subscribers, other)
		}
	}
	return old, subscribers, true
}

// unregister removes p if it is still the current peer of its user.
func (v *VoiceRelay) unregister(p *Peer) (relay *Relay, others []*Peer, otherRelays []*Relay) {
	v.mu.Lock()
	defer v.mu.Unlock()
	vr, ok := v.rooms[p.room]
	if !ok || vr.peers[p.user] != p {
		return nil, nil, nil
	}
	delete(vr.peers, p.user)
	relay = vr.relays[p.user]
	delete(vr.relays, p.user)
	for _, o := range vr.peers {
		others = append(others, o)
	}
	for _, r := range vr.relays {
		otherRelays = append(otherRelays, r)
	}
	if len(vr.peers) == 0 {
		delete(v.rooms, p.room)
	}
	return relay, others, otherRelays
}
