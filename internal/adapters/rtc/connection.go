package rtc

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/RetroHub/internal/core"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewAPI builds a pion API with default codecs and interceptors (NACK, RTCP reports, TWCC).
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

func DefaultWebRTCConfig(stunURLs ...string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: stunURLs,
			},
		},
	}
}

// WebRTCConnection implements core.MediaConnection on a pion PeerConnection.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger
	cancel context.CancelFunc

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(ctx context.Context, codec webrtc.RTPCodecCapability, src core.RTPSource)
	onState func(webrtc.PeerConnectionState)

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender
}

var _ core.MediaConnection = (*WebRTCConnection)(nil)

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, room domain.RoomID, user domain.UserID) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{
		pc: pc,
		logger: log.With().
			Str("module", "webrtc").
			Int64("room", int64(room)).
			Int64("user", int64(user)).
			Logger(),
		senders: make(map[string]*webrtc.RTPSender),
	}, nil
}

// Factory returns a constructor bound to api and cfg.
func Factory(api *webrtc.API, cfg webrtc.Configuration) func(domain.RoomID, domain.UserID) (core.MediaConnection, error) {
	return func(room domain.RoomID, user domain.UserID) (core.MediaConnection, error) {
		return NewWebRTCConnection(api, cfg, room, user)
	}
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed {
			if err := c.pc.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("close after ICE failure")
			}
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateClosed || s == webrtc.PeerConnectionStateFailed {
			cancel()
		}
		if c.onState != nil {
			c.onState(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		if c.onTrack != nil {
			c.onTrack(ctx, track.Codec().RTPCodecCapability, track)
		}
	})

	return nil
}

// ApplyOffer answers without waiting for ICE gathering; candidates trickle via OnICECandidate.
func (c *WebRTCConnection) ApplyOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Debug().Msg("closed")
	}
}

func (c *WebRTCConnection) IsClosed() bool {
	return c.pc.ConnectionState() == webrtc.PeerConnectionStateClosed
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.onICE = fn
}

// OnTrack sets application-level callback for remote audio tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, codec webrtc.RTPCodecCapability, src core.RTPSource)) {
	c.onTrack = fn
}

func (c *WebRTCConnection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.onState = fn
}

// AddLocalTrack attaches an outbound track and drains its RTCP so interceptors keep working.
func (c *WebRTCConnection) AddLocalTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.senders[track.ID()] = sender
	c.mu.Unlock()

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *WebRTCConnection) RemoveLocalTrack(trackID string) error {
	c.mu.Lock()
	sender, ok := c.senders[trackID]
	delete(c.senders, trackID)
	c.mu.Unlock()
	if !ok {
		return core.ErrTrackNotFound
	}
	return c.pc.RemoveTrack(sender)
}

func (c *WebRTCConnection) LocalTrackIDs() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.senders))
	for id := range c.senders {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	slices.Sort(ids)
	return ids
}
