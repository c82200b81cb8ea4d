package rtc

import (
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/realtimeconnect/hub/internal/core"
	"github.com/realtimeconnect/hub/internal/domain"
)

// Engine creates pion-backed media connections. Every lifecycle callback is
// translated into a typed event on the hub's event channel; nothing here
// touches session or room state directly.
type Engine struct {
	cfg    webrtc.Configuration
	notify func(core.Event)
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func NewEngine(cfg webrtc.Configuration) *Engine {
	return &Engine{cfg: cfg}
}

// Bind sets the event sink. Must be called before NewConnection.
func (e *Engine) Bind(notify func(core.Event)) {
	e.notify = notify
}

func (e *Engine) NewConnection(peer domain.PeerID) (core.MediaConnection, error) {
	pc, err := webrtc.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, peer: peer, notify: e.notify}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(peer)).Str("ice_state", s.String()).Msg("ICE state")
		c.emit(core.Connectivity{PeerID: peer, State: s.String()})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(peer)).Str("peer_connection_state", s.String()).Msg("peer state")
		// The session machine tolerates duplicates of the ICE-level events;
		// only failed/closed matter at this level.
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.emit(core.Connectivity{PeerID: peer, State: "failed"})
		case webrtc.PeerConnectionStateClosed:
			c.emit(core.Connectivity{PeerID: peer, State: "closed"})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := domain.ClassifyTrack(track.Kind().String(), track.StreamID())
		log.Info().
			Str("module", "rtc").
			Str("peer", string(peer)).
			Str("kind", string(kind)).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		c.emit(core.TrackPublished{PeerID: peer, Kind: kind, Source: track})
	})

	return c, nil
}

// Connection wraps one pion PeerConnection.
type Connection struct {
	pc     *webrtc.PeerConnection
	peer   domain.PeerID
	notify func(core.Event)
}

func (c *Connection) emit(ev core.Event) {
	if c.notify != nil {
		c.notify(ev)
	}
}

func (c *Connection) ApplyOffer(offerSDP string) error {
	if offerSDP == "" {
		return errors.New("empty sdp")
	}
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	})
}

func (c *Connection) CreateAnswer() (string, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	<-gatherComplete
	return c.pc.LocalDescription().SDP, nil
}

func (c *Connection) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	return c.pc.AddTrack(track)
}

func (c *Connection) RemoveTrack(sender *webrtc.RTPSender) error {
	return c.pc.RemoveTrack(sender)
}

func (c *Connection) Close() {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("close error")
		return
	}
	log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Msg("closed")
}
