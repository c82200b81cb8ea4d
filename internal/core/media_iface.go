package core

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/realtimeconnect/hub/internal/domain"
)

// TrackSource is the reader side of a published remote track.
// *webrtc.TrackRemote satisfies it; tests substitute fakes.
type TrackSource interface {
	ID() string
	StreamID() string
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// MediaConnection is one peer's media transport. The session manager drives
// its negotiation; the relay adds and removes subscription tracks on it.
type MediaConnection interface {
	// ApplyOffer sets the remote description. A malformed SDP fails here,
	// before any session state is created.
	ApplyOffer(offerSDP string) error
	// CreateAnswer produces the local description, blocking until ICE
	// gathering completes so the answer is self-contained.
	CreateAnswer() (string, error)
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
	Close()
}

// MediaEngine creates media connections whose lifecycle events are emitted
// onto the hub's event channel, tagged with the given peer id.
type MediaEngine interface {
	NewConnection(peer domain.PeerID) (MediaConnection, error)
}
