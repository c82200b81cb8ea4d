package app

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/realtimeconnect/hub/internal/domain"
)

type roomState struct {
	members map[string]struct{}
	// peers maps a media session to its privileged flag.
	peers map[domain.PeerID]bool
}

func (s *roomState) empty() bool {
	return len(s.members) == 0 && len(s.peers) == 0
}

// Partition groups chat identities and media peers by room id and encodes
// the privileged-room fan-out rule. Join and Leave are the sole mutators of
// membership; an empty room is removed immediately, not on a timer.
type Partition struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState

	privilegedRoom domain.RoomID
	roomPrefix     string
}

func NewPartition(privilegedRoom domain.RoomID, roomPrefix string) *Partition {
	return &Partition{
		rooms:          make(map[domain.RoomID]*roomState),
		privilegedRoom: privilegedRoom,
		roomPrefix:     roomPrefix,
	}
}

func (p *Partition) PrivilegedRoom() domain.RoomID { return p.privilegedRoom }

// CheckPolicy validates a room id against the configured prefix policy
// without creating any state. The privileged room is exempt.
func (p *Partition) CheckPolicy(room domain.RoomID) error {
	if room == "" {
		return fmt.Errorf("%w: empty room id", domain.ErrRoomPolicy)
	}
	if p.roomPrefix != "" && room != p.privilegedRoom && !strings.HasPrefix(string(room), p.roomPrefix) {
		return fmt.Errorf("%w: room %q must start with %q", domain.ErrRoomPolicy, room, p.roomPrefix)
	}
	return nil
}

// Join adds a chat handle and/or a media peer to a room, creating the room
// implicitly. Either reference may be empty. The policy is checked before
// any state is created.
func (p *Partition) Join(handle string, peer domain.PeerID, room domain.RoomID, privileged bool) error {
	if err := p.CheckPolicy(room); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.rooms[room]
	if !ok {
		s = &roomState{
			members: make(map[string]struct{}),
			peers:   make(map[domain.PeerID]bool),
		}
		p.rooms[room] = s
		log.Info().Str("module", "app.rooms").Str("room", string(room)).Msg("room created")
	}
	if handle != "" {
		s.members[handle] = struct{}{}
	}
	if peer != "" {
		s.peers[peer] = privileged
	}
	return nil
}

// Leave removes the given references from whichever room holds them and
// garbage-collects the room the moment it becomes empty.
func (p *Partition) Leave(handle string, peer domain.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for room, s := range p.rooms {
		changed := false
		if handle != "" {
			if _, ok := s.members[handle]; ok {
				delete(s.members, handle)
				changed = true
			}
		}
		if peer != "" {
			if _, ok := s.peers[peer]; ok {
				delete(s.peers, peer)
				changed = true
			}
		}
		if changed && s.empty() {
			delete(p.rooms, room)
			log.Info().Str("module", "app.rooms").Str("room", string(room)).Msg("room removed")
		}
	}
}

func (p *Partition) Exists(room domain.RoomID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.rooms[room]
	return ok
}

func (p *Partition) MembersOf(room domain.RoomID) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.rooms[room]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.members))
	for h := range s.members {
		out = append(out, h)
	}
	return out
}

func (p *Partition) PeersOf(room domain.RoomID) []domain.PeerID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.rooms[room]
	if !ok {
		return nil
	}
	out := make([]domain.PeerID, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return out
}

// FanoutTargets returns the peers that must receive a track published in the
// given room. Ordinary rooms are full mesh: every peer but the publisher. In
// the privileged room, a privileged publisher reaches everyone, while a
// non-privileged publisher is visible only to privileged peers.
func (p *Partition) FanoutTargets(room domain.RoomID, publisher domain.PeerID, publisherPrivileged bool) []domain.PeerID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.rooms[room]
	if !ok {
		return nil
	}
	out := make([]domain.PeerID, 0, len(s.peers))
	for id, priv := range s.peers {
		if id == publisher {
			continue
		}
		if room == p.privilegedRoom && !publisherPrivileged && !priv {
			continue
		}
		out = append(out, id)
	}
	return out
}
