package domain

import "strings"

type TrackKind string

const (
	TrackAudio  TrackKind = "audio"
	TrackVideo  TrackKind = "video"
	TrackScreen TrackKind = "screen"
)

// TrackRef addresses one published track inside the relay fabric.
type TrackRef struct {
	Owner PeerID
	Kind  TrackKind
}

// ClassifyTrack maps a remote track's codec kind and stream label onto the
// relay's track kinds. Screen shares arrive as video on a stream whose id the
// client prefixes with "screen".
func ClassifyTrack(codecKind, streamID string) TrackKind {
	if codecKind == "audio" {
		return TrackAudio
	}
	if strings.HasPrefix(streamID, "screen") {
		return TrackScreen
	}
	return TrackVideo
}
