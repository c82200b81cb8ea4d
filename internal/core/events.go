package core

import "github.com/realtimeconnect/hub/internal/domain"

// Event is a typed notification from the media engine. All events flow over
// one buffered channel into the session manager, which keeps per-peer order.
type Event interface {
	Peer() domain.PeerID
}

// TrackPublished fires when a remote track starts arriving on a peer.
type TrackPublished struct {
	PeerID domain.PeerID
	Kind   domain.TrackKind
	Source TrackSource
}

func (e TrackPublished) Peer() domain.PeerID { return e.PeerID }

// TrackEnded fires when a published track's read loop terminates.
type TrackEnded struct {
	PeerID domain.PeerID
	Kind   domain.TrackKind
}

func (e TrackEnded) Peer() domain.PeerID { return e.PeerID }

// Connectivity carries transport-reported ICE/connection state changes.
type Connectivity struct {
	PeerID domain.PeerID
	State  string // "new" | "connected" | "completed" | "disconnected" | "failed" | "closed"
}

func (e Connectivity) Peer() domain.PeerID { return e.PeerID }
