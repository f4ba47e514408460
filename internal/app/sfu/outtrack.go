package sfu

import (
	"sync/atomic"

	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// OutTrack is one publisher's audio as sent to a single subscriber.
// Its track id is the publisher's user id.
type OutTrack struct {
	Track      *webrtc.TrackLocalStaticRTP
	Subscriber domain.UserID
	state      atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(track *webrtc.TrackLocalStaticRTP, subscriber domain.UserID) *OutTrack {
	return &OutTrack{Track: track, Subscriber: subscriber}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

// MarkDelete is terminal.
func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
