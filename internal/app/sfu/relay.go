package sfu

import (
	"context"
	"errors"
	"io"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dkeye/RetroHub/internal/core"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// TrackID is the outbound track id clients use to map audio to a user.
func TrackID(user domain.UserID) string {
	return strconv.FormatInt(int64(user), 10)
}

// Relay forwards one publisher's inbound audio to an OutTrack per subscriber.
type Relay struct {
	Publisher domain.UserID
	Src       core.RTPSource
	codec     webrtc.RTPCodecCapability
	streamID  string

	mu        sync.RWMutex
	outTracks map[domain.UserID]*OutTrack
	muted     atomic.Bool

	cancel context.CancelFunc
}

func NewRelay(publisher domain.UserID, src core.RTPSource, codec webrtc.RTPCodecCapability, cancel context.CancelFunc) *Relay {
	return &Relay{
		Publisher: publisher,
		Src:       src,
		codec:     codec,
		streamID:  uuid.NewString(),
		outTracks: make(map[domain.UserID]*OutTrack),
		cancel:    cancel,
	}
}

// NewOutTrack creates and attaches a fresh outbound track for dst.
// An existing track for dst is marked for deletion and replaced.
func (r *Relay) NewOutTrack(dst domain.UserID) (*OutTrack, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(r.codec, TrackID(r.Publisher), r.streamID)
	if err != nil {
		return nil, err
	}
	ot := NewOutTrack(local, dst)
	if r.muted.Load() {
		ot.MarkMuted()
	}
	r.mu.Lock()
	if old, ok := r.outTracks[dst]; ok {
		old.MarkDelete()
	}
	r.outTracks[dst] = ot
	r.mu.Unlock()
	return ot, nil
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug().Msg("publisher track ended")
			} else {
				logger.Warn().Err(err).Msg("relay read RTP error, stopping")
			}
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[domain.UserID]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	var dirty []domain.UserID
	for dst, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					continue
				}
				logger.Warn().
					Err(err).
					Int64("dst", int64(dst)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dst)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dst := range dirty {
		if ot, ok := r.outTracks[dst]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, dst)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

// MarkSubscriberDelete stops forwarding to dst.
func (r *Relay) MarkSubscriberDelete(dst domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outTracks[dst]; ok {
		ot.MarkDelete()
		delete(r.outTracks, dst)
	}
}

// SetMuted pauses or resumes forwarding to every subscriber.
func (r *Relay) SetMuted(muted bool) {
	r.muted.Store(muted)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ot := range r.outTracks {
		if muted {
			ot.MarkMuted()
		} else {
			ot.MarkOk()
		}
	}
}

// Stop ends the loop and detaches all subscribers.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.markAllDelete()
}
