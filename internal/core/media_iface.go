package core

import (
	"context"
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrTrackNotFound = errors.New("local track not found")

// RTPSource is the readable side of a remote track.
type RTPSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources. Safe to call twice.
	Close()
	IsClosed() bool
	// ApplyOffer sets the remote offer and returns the local answer.
	// Candidates are trickled through OnICECandidate, the answer is not held back for gathering.
	ApplyOffer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// CreateAndSetOffer starts a server-initiated renegotiation.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches an outbound track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) error
	// RemoveLocalTrack detaches the outbound track with the given id.
	// Returns ErrTrackNotFound when no such track is attached.
	RemoveLocalTrack(trackID string) error
	// LocalTrackIDs lists the ids of attached outbound tracks.
	LocalTrackIDs() []string
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, codec webrtc.RTPCodecCapability, src RTPSource))
	// OnStateChange sets a callback for peer connection state transitions.
	OnStateChange(func(webrtc.PeerConnectionState))
}
