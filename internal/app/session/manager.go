package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/realtimeconnect/hub/internal/app"
	"github.com/realtimeconnect/hub/internal/app/sfu"
	"github.com/realtimeconnect/hub/internal/core"
	"github.com/realtimeconnect/hub/internal/domain"
)

type OfferRequest struct {
	SDP        string
	Room       domain.RoomID
	Identity   string
	Privileged bool
}

type AnswerResponse struct {
	SDP    string
	PeerID domain.PeerID
}

// Manager owns every peer session and drives the relay topology. It consumes
// typed engine events from a single buffered channel, so per-peer event order
// is preserved; signaling requests arrive on caller goroutines and are
// guarded by the same locks.
type Manager struct {
	engine core.MediaEngine
	rooms  *app.Partition
	relays *sfu.RelayManager

	events chan core.Event

	mu       sync.RWMutex
	sessions map[domain.PeerID]*Session
}

func NewManager(engine core.MediaEngine, rooms *app.Partition) *Manager {
	m := &Manager{
		engine:   engine,
		rooms:    rooms,
		events:   make(chan core.Event, 256),
		sessions: make(map[domain.PeerID]*Session),
	}
	m.relays = sfu.NewRelayManager(func(ref domain.TrackRef) {
		m.Notify(core.TrackEnded{PeerID: ref.Owner, Kind: ref.Kind})
	})
	return m
}

// Notify enqueues an engine event for the manager's loop.
func (m *Manager) Notify(ev core.Event) {
	m.events <- ev
}

// Run consumes engine events until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent dispatches one engine event.
func (m *Manager) HandleEvent(ctx context.Context, ev core.Event) {
	switch e := ev.(type) {
	case core.TrackPublished:
		m.onTrackPublished(ctx, e)
	case core.TrackEnded:
		m.onTrackEnded(e)
	case core.Connectivity:
		if err := m.OnConnectivity(e.PeerID, e.State); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("peer", string(e.PeerID)).Msg("connectivity event dropped")
		}
	}
}

// Create negotiates a new peer session: the offer is validated first, then
// the session joins its room and is subscribed to every track it may see,
// and only then is the answer produced. The first offer/answer round trip
// therefore already carries all other participants' media.
func (m *Manager) Create(ctx context.Context, req OfferRequest) (AnswerResponse, error) {
	if err := m.rooms.CheckPolicy(req.Room); err != nil {
		return AnswerResponse{}, err
	}

	id := domain.PeerID(uuid.NewString())
	mc, err := m.engine.NewConnection(id)
	if err != nil {
		return AnswerResponse{}, fmt.Errorf("media engine: %w", err)
	}
	if err := mc.ApplyOffer(req.SDP); err != nil {
		mc.Close()
		return AnswerResponse{}, fmt.Errorf("%w: %v", domain.ErrInvalidOffer, err)
	}

	sess := newSession(id, req.Identity, req.Room, req.Privileged, mc)
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	if err := m.rooms.Join("", id, req.Room, req.Privileged); err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		mc.Close()
		return AnswerResponse{}, err
	}

	m.attachExisting(sess)

	answer, err := mc.CreateAnswer()
	if err != nil {
		m.Teardown(id)
		return AnswerResponse{}, fmt.Errorf("%w: answer: %v", domain.ErrInvalidOffer, err)
	}
	sess.transition(StateAnswered)

	log.Info().
		Str("module", "session").
		Str("peer", string(id)).
		Str("room", string(req.Room)).
		Str("identity", req.Identity).
		Bool("privileged", req.Privileged).
		Msg("session answered")
	return AnswerResponse{SDP: answer, PeerID: id}, nil
}

// OnConnectivity maps transport-reported states onto the session machine.
// "failed" keeps the session alive for an ICE restart; only "closed" forces
// teardown.
func (m *Manager) OnConnectivity(peer domain.PeerID, state string) error {
	sess, ok := m.get(peer)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, peer)
	}
	switch state {
	case "connected", "completed":
		sess.transition(StateConnected)
	case "failed", "disconnected":
		sess.transition(StateFailed)
	case "closed":
		m.Teardown(peer)
	case "new":
	default:
		log.Warn().Str("module", "session").Str("peer", string(peer)).Str("state", state).Msg("unknown connectivity state")
	}
	return nil
}

// Teardown removes the session's published tracks from every subscriber,
// leaves the room and releases the session. Safe to call twice.
func (m *Manager) Teardown(peer domain.PeerID) {
	m.mu.Lock()
	sess, ok := m.sessions[peer]
	if ok {
		delete(m.sessions, peer)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	for _, ref := range m.relays.OwnedBy(peer) {
		subs := m.relays.StopRelay(ref)
		for dst, ot := range subs {
			m.detach(dst, ref, ot)
		}
	}

	sess.mu.Lock()
	sess.closed = true
	sess.state = StateClosed
	inbound := sess.inbound
	sess.inbound = make(map[domain.TrackRef]*webrtc.RTPSender)
	media := sess.media
	sess.mu.Unlock()

	for ref := range inbound {
		m.relays.MarkSubscriberDelete(ref, peer)
	}

	m.rooms.Leave("", peer)
	if media != nil {
		media.Close()
	}
	log.Info().Str("module", "session").Str("peer", string(peer)).Msg("session torn down")
}

// Session returns the live session for a peer.
func (m *Manager) Session(peer domain.PeerID) (*Session, bool) {
	return m.get(peer)
}

func (m *Manager) get(peer domain.PeerID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[peer]
	return sess, ok
}

func (m *Manager) onTrackPublished(ctx context.Context, ev core.TrackPublished) {
	sess, ok := m.get(ev.PeerID)
	if !ok {
		log.Warn().Str("module", "session").Str("peer", string(ev.PeerID)).Msg("track published for unknown session")
		return
	}
	ref := domain.TrackRef{Owner: ev.PeerID, Kind: ev.Kind}
	m.relays.StartRelay(ctx, ref, ev.Source)

	sess.mu.Lock()
	sess.published[ev.Kind] = struct{}{}
	sess.mu.Unlock()

	targets := m.rooms.FanoutTargets(sess.Room, sess.ID, sess.Privileged)
	m.attach(ref, ev.Source, targets)
}

func (m *Manager) onTrackEnded(ev core.TrackEnded) {
	ref := domain.TrackRef{Owner: ev.PeerID, Kind: ev.Kind}
	subs := m.relays.StopRelay(ref)
	for dst, ot := range subs {
		m.detach(dst, ref, ot)
	}
	if sess, ok := m.get(ev.PeerID); ok {
		sess.mu.Lock()
		delete(sess.published, ev.Kind)
		sess.mu.Unlock()
	}
	log.Info().Str("module", "session").Str("peer", string(ev.PeerID)).Str("kind", string(ev.Kind)).Msg("track ended")
}

// attachExisting subscribes a freshly negotiated session to every live,
// relay-eligible track it is allowed to see, before the answer is finalized.
func (m *Manager) attachExisting(sess *Session) {
	for _, owner := range m.rooms.PeersOf(sess.Room) {
		if owner == sess.ID {
			continue
		}
		ownerSess, ok := m.get(owner)
		if !ok {
			continue
		}
		for _, ref := range m.relays.OwnedBy(owner) {
			visible := false
			for _, t := range m.rooms.FanoutTargets(sess.Room, owner, ownerSess.Privileged) {
				if t == sess.ID {
					visible = true
					break
				}
			}
			if !visible {
				continue
			}
			if src, ok := m.relays.Src(ref); ok {
				m.attach(ref, src, []domain.PeerID{sess.ID})
			}
		}
	}
}

// attach adds a subscription track for ref to each target session. Each
// target is handled under its own session lock so an attach can never race a
// concurrent teardown of that session; failures are per-target.
func (m *Manager) attach(ref domain.TrackRef, src core.TrackSource, targets []domain.PeerID) {
	for _, dst := range targets {
		sess, ok := m.get(dst)
		if !ok {
			continue
		}
		sess.mu.Lock()
		if sess.closed {
			sess.mu.Unlock()
			continue
		}
		if stale, ok := sess.inbound[ref]; ok {
			// Same track republished: the old out track was marked for
			// delete when the relay was replaced, so the old sender comes
			// off and the subscription is rebuilt on the new relay.
			delete(sess.inbound, ref)
			if err := sess.media.RemoveTrack(stale); err != nil {
				log.Warn().Err(err).Str("module", "session").Str("dst", string(dst)).Msg("remove stale track")
			}
		}
		local, err := webrtc.NewTrackLocalStaticRTP(src.Codec().RTPCodecCapability, src.ID(), src.StreamID())
		if err != nil {
			sess.mu.Unlock()
			log.Error().Err(err).Str("module", "session").Str("dst", string(dst)).Msg("new local track")
			continue
		}
		sender, err := sess.media.AddLocalTrack(local)
		if err != nil {
			sess.mu.Unlock()
			log.Error().Err(err).Str("module", "session").Str("dst", string(dst)).Msg("add local track")
			continue
		}
		sess.inbound[ref] = sender
		sess.mu.Unlock()
		if m.relays.Subscribe(ref, dst, sfu.NewOutTrack(local, sender)) {
			continue
		}
		// The relay stopped between the fan-out computation and the
		// subscribe; roll the sender and the inbound entry back.
		sess.mu.Lock()
		delete(sess.inbound, ref)
		media := sess.media
		closed := sess.closed
		sess.mu.Unlock()
		if !closed {
			if err := media.RemoveTrack(sender); err != nil {
				log.Warn().Err(err).Str("module", "session").Str("dst", string(dst)).Msg("remove track after stopped relay")
			}
		}
	}
}

// detach removes one subscriber's out track. A subscriber whose transport is
// already gone is logged and skipped; removal from the rest proceeds.
func (m *Manager) detach(dst domain.PeerID, ref domain.TrackRef, ot *sfu.OutTrack) {
	sess, ok := m.get(dst)
	if !ok {
		return
	}
	sess.mu.Lock()
	sender, had := sess.inbound[ref]
	delete(sess.inbound, ref)
	if sender == nil {
		sender = ot.Sender
	}
	media := sess.media
	closed := sess.closed
	sess.mu.Unlock()

	if !had || closed || sender == nil {
		return
	}
	if err := media.RemoveTrack(sender); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("dst", string(dst)).Msg("remove track from subscriber")
	}
}
