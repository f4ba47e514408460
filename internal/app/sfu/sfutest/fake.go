// Package sfutest provides an in-memory core.MediaConnection for tests.
package sfutest

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/RetroHub/internal/core"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var Opus = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}

var errClosed = errors.New("connection closed")

// Conn records what the relay does to a peer connection.
type Conn struct {
	Room domain.RoomID
	User domain.UserID

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	tracks     map[string]webrtc.TrackLocal
	closed     bool
	offers     int
	answers    int
	candidates []webrtc.ICECandidateInit
	// offered is the track set of the outstanding local offer; delivered
	// is the set the remote side agreed to in the last completed round.
	offered    []string
	delivered  []string
	failAnswer bool

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(context.Context, webrtc.RTPCodecCapability, core.RTPSource)
	onState func(webrtc.PeerConnectionState)
}

var _ core.MediaConnection = (*Conn)(nil)

func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	return nil
}

// Close reports the Closed state synchronously, like a real connection may.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.SetState(webrtc.PeerConnectionStateClosed)
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ApplyOffer answers with at most one attached track per audio m-line of
// the remote offer, like a real peer connection.
func (c *Conn) ApplyOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	ids := c.trackIDsLocked()
	c.delivered = ids[:min(len(ids), strings.Count(offer.SDP, "m=audio"))]
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (c *Conn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	c.offers++
	c.offered = c.trackIDsLocked()
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (c *Conn) ApplyAnswer(webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	if c.failAnswer {
		c.failAnswer = false
		return errors.New("answer rejected")
	}
	c.answers++
	c.delivered = c.offered
	return nil
}

// FailNextAnswer makes the next ApplyAnswer return an error.
func (c *Conn) FailNextAnswer() {
	c.mu.Lock()
	c.failAnswer = true
	c.mu.Unlock()
}

// Delivered lists the attached tracks the remote side has agreed to receive.
func (c *Conn) Delivered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.delivered)
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *Conn) AddLocalTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	c.tracks[track.ID()] = track
	return nil
}

func (c *Conn) RemoveLocalTrack(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tracks[id]; !ok {
		return core.ErrTrackNotFound
	}
	delete(c.tracks, id)
	return nil
}

func (c *Conn) LocalTrackIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trackIDsLocked()
}

func (c *Conn) trackIDsLocked() []string {
	ids := make([]string, 0, len(c.tracks))
	for id := range c.tracks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

func (c *Conn) OnTrack(fn func(context.Context, webrtc.RTPCodecCapability, core.RTPSource)) {
	c.onTrack = fn
}

func (c *Conn) OnStateChange(fn func(webrtc.PeerConnectionState)) { c.onState = fn }

// SetState simulates a peer connection state transition.
func (c *Conn) SetState(s webrtc.PeerConnectionState) {
	if c.onState != nil {
		c.onState(s)
	}
}

// Publish simulates the remote side starting to send audio.
func (c *Conn) Publish(src *Source) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if c.onTrack != nil {
		c.onTrack(ctx, Opus, src)
	}
}

// EmitCandidate simulates a locally gathered ICE candidate.
func (c *Conn) EmitCandidate(ci webrtc.ICECandidateInit) {
	if c.onICE != nil {
		c.onICE(ci)
	}
}

func (c *Conn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *Conn) Answers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers
}

func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.candidates)
}

type key struct {
	room domain.RoomID
	user domain.UserID
}

// Factory hands out Conns and remembers the latest one per (room, user).
type Factory struct {
	mu    sync.Mutex
	conns map[key]*Conn
	all   []*Conn
}

func NewFactory() *Factory {
	return &Factory{conns: make(map[key]*Conn)}
}

func (f *Factory) New(room domain.RoomID, user domain.UserID) (core.MediaConnection, error) {
	c := &Conn{Room: room, User: user, tracks: make(map[string]webrtc.TrackLocal)}
	f.mu.Lock()
	f.conns[key{room, user}] = c
	f.all = append(f.all, c)
	f.mu.Unlock()
	return c, nil
}

func (f *Factory) Conn(room domain.RoomID, user domain.UserID) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[key{room, user}]
}

// Count is the number of connections ever created.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.all)
}

// Source is a remote track fed by the test.
type Source struct {
	ch   chan *rtp.Packet
	once sync.Once
}

func NewSource() *Source {
	return &Source{ch: make(chan *rtp.Packet, 16)}
}

func (s *Source) Push(pkt *rtp.Packet) { s.ch <- pkt }

// End makes ReadRTP return io.EOF.
func (s *Source) End() { s.once.Do(func() { close(s.ch) }) }

func (s *Source) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-s.ch
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}
