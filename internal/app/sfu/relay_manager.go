package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/realtimeconnect/hub/internal/core"
	"github.com/realtimeconnect/hub/internal/domain"
)

// RelayManager owns every live relay, keyed by (owner peer, track kind).
// It does pure fan-out bookkeeping: it knows nothing about rooms or sessions.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[domain.TrackRef]*Relay

	// onEnded is invoked when a relay's read loop terminates, after the
	// relay has marked its out tracks for delete.
	onEnded func(domain.TrackRef)
}

func NewRelayManager(onEnded func(domain.TrackRef)) *RelayManager {
	return &RelayManager{
		relays:  make(map[domain.TrackRef]*Relay),
		onEnded: onEnded,
	}
}

// StartRelay creates a new Relay for the given track and starts its loop.
// A relay already held under the same key is replaced.
func (m *RelayManager) StartRelay(ctx context.Context, ref domain.TrackRef, src core.TrackSource) {
	logger := log.With().
		Str("module", "sfu").
		Str("owner", string(ref.Owner)).
		Str("kind", string(ref.Kind)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[ref]; ok {
		logger.Info().Msg("replacing existing relay for track")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[ref] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger, func() {
		// A relay that was replaced or explicitly stopped is no longer the
		// one registered under ref; its loop exit must not end the track.
		m.mu.RLock()
		current := m.relays[ref]
		m.mu.RUnlock()
		if current != relay {
			return
		}
		if m.onEnded != nil {
			m.onEnded(ref)
		}
	})
}

// Subscribe attaches an OutTrack for dst to the relay of ref.
func (m *RelayManager) Subscribe(ref domain.TrackRef, dst domain.PeerID, ot *OutTrack) bool {
	m.mu.RLock()
	relay, ok := m.relays[ref]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(dst, ot)
	return true
}

// MarkSubscriberDelete marks dst's OutTrack on the ref relay for delete.
func (m *RelayManager) MarkSubscriberDelete(ref domain.TrackRef, dst domain.PeerID) {
	m.mu.RLock()
	relay, ok := m.relays[ref]
	m.mu.RUnlock()
	if !ok {
		return
	}
	relay.mu.RLock()
	ot, ok := relay.outTracks[dst]
	relay.mu.RUnlock()
	if !ok {
		return
	}
	ot.MarkDelete()
}

// StopRelay removes the relay and returns its subscribers so the caller can
// detach the out tracks from each subscriber's connection. Every subscriber
// is marked for delete before the relay entry is discarded.
func (m *RelayManager) StopRelay(ref domain.TrackRef) map[domain.PeerID]*OutTrack {
	m.mu.Lock()
	relay, ok := m.relays[ref]
	if ok {
		delete(m.relays, ref)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	subs := relay.Subscribers()
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
	return subs
}

// OwnedBy returns the refs of every relay published by the given peer.
func (m *RelayManager) OwnedBy(owner domain.PeerID) []domain.TrackRef {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TrackRef, 0, 2)
	for ref := range m.relays {
		if ref.Owner == owner {
			out = append(out, ref)
		}
	}
	return out
}

// Src returns the source of a live relay.
func (m *RelayManager) Src(ref domain.TrackRef) (core.TrackSource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[ref]
	if !ok {
		return nil, false
	}
	return relay.Src, true
}

// HasRelay reports whether a relay exists for ref.
func (m *RelayManager) HasRelay(ref domain.TrackRef) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[ref]
	return ok
}
