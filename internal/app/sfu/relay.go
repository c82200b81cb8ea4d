package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/realtimeconnect/hub/internal/core"
	"github.com/realtimeconnect/hub/internal/domain"
)

// Relay forwards one published track to its subscribers. One relay exists per
// (owner peer, track kind); the underlying RTP bytes stay inside the loop,
// the rest of the hub only manages subscription topology.
type Relay struct {
	Src core.TrackSource

	mu        sync.RWMutex
	outTracks map[domain.PeerID]*OutTrack

	cancel context.CancelFunc
}

func NewRelay(src core.TrackSource, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:       src,
		outTracks: make(map[domain.PeerID]*OutTrack),
		cancel:    cancel,
	}
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger, onEnded func()) {
	defer onEnded()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended, stopping")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[domain.PeerID]*OutTrack, len(r.outTracks))
	r.mu.RLock()
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]domain.PeerID, 0, len(snapshot))
	for dst, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst_peer", string(dst)).
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

func (r *Relay) cleanupDeleted(dirty []domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dst := range dirty {
		delete(r.outTracks, dst)
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(dst domain.PeerID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[dst] = ot
}

// Subscribers returns the current out tracks keyed by subscriber peer.
func (r *Relay) Subscribers() map[domain.PeerID]*OutTrack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.PeerID]*OutTrack, len(r.outTracks))
	maps.Copy(out, r.outTracks)
	return out
}
