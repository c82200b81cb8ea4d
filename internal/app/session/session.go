package session

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/realtimeconnect/hub/internal/core"
	"github.com/realtimeconnect/hub/internal/domain"
)

type State int

const (
	StateNegotiating State = iota
	StateAnswered
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateAnswered:
		return "answered"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one client's media connection. Room membership is fixed at
// creation; rejoining requires a new session. The mutex serializes track
// attach/detach against teardown of the same session.
type Session struct {
	ID         domain.PeerID
	Identity   string
	Room       domain.RoomID
	Privileged bool

	mu        sync.Mutex
	state     State
	closed    bool
	media     core.MediaConnection
	published map[domain.TrackKind]struct{}
	inbound   map[domain.TrackRef]*webrtc.RTPSender
}

func newSession(id domain.PeerID, identity string, room domain.RoomID, privileged bool, mc core.MediaConnection) *Session {
	return &Session{
		ID:         id,
		Identity:   identity,
		Room:       room,
		Privileged: privileged,
		state:      StateNegotiating,
		media:      mc,
		published:  make(map[domain.TrackKind]struct{}),
		inbound:    make(map[domain.TrackRef]*webrtc.RTPSender),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition applies a state change. Closed is terminal; Failed does not tear
// the session down, so Connected remains reachable from it (ICE restart).
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	switch to {
	case StateAnswered:
		if s.state != StateNegotiating {
			return false
		}
	case StateConnected, StateFailed, StateClosed:
	default:
		return false
	}
	s.state = to
	return true
}

// InboundCount reports how many relay subscriptions the session holds.
func (s *Session) InboundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound)
}

// Subscribed reports whether the session receives the given track.
func (s *Session) Subscribed(ref domain.TrackRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inbound[ref]
	return ok
}
