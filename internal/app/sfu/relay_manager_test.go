package sfu

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/realtimeconnect/hub/internal/domain"
)

type fakeSource struct {
	done chan struct{}
	once sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{done: make(chan struct{})}
}

func (s *fakeSource) ID() string       { return "track-1" }
func (s *fakeSource) StreamID() string { return "stream-1" }
func (s *fakeSource) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	}
}

func (s *fakeSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	<-s.done
	return nil, nil, errors.New("ended")
}

func (s *fakeSource) stop() { s.once.Do(func() { close(s.done) }) }

func newLocalTrack(t *testing.T) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "t", "s")
	if err != nil {
		t.Fatalf("new local track: %v", err)
	}
	return track
}

func TestOutTrack_StateTransitions(t *testing.T) {
	ot := NewOutTrack(newLocalTrack(t), nil)
	if ot.GetState() != TrackStateOk {
		t.Fatalf("fresh out track state=%v, want ok", ot.GetState())
	}
	ot.MarkMuted()
	if ot.GetState() != TrackStateMuted {
		t.Fatalf("state=%v, want muted", ot.GetState())
	}
	ot.MarkDelete()
	if ot.GetState() != TrackStateDelete {
		t.Fatalf("state=%v, want delete", ot.GetState())
	}
}

func TestRelayManager_SubscribeAndStop(t *testing.T) {
	m := NewRelayManager(nil)
	src := newFakeSource()
	defer src.stop()

	ref := domain.TrackRef{Owner: "p1", Kind: domain.TrackVideo}
	m.StartRelay(context.Background(), ref, src)
	if !m.HasRelay(ref) {
		t.Fatalf("relay not registered")
	}

	ot := NewOutTrack(newLocalTrack(t), nil)
	if !m.Subscribe(ref, "p2", ot) {
		t.Fatalf("subscribe failed")
	}

	subs := m.StopRelay(ref)
	if len(subs) != 1 {
		t.Fatalf("subscribers=%d, want 1", len(subs))
	}
	if subs["p2"].GetState() != TrackStateDelete {
		t.Fatalf("subscriber not marked for delete before relay discard")
	}
	if m.HasRelay(ref) {
		t.Fatalf("relay survives StopRelay")
	}
}

func TestRelayManager_SubscribeUnknownRelay(t *testing.T) {
	m := NewRelayManager(nil)
	ref := domain.TrackRef{Owner: "nope", Kind: domain.TrackAudio}
	if m.Subscribe(ref, "p2", NewOutTrack(newLocalTrack(t), nil)) {
		t.Fatalf("subscribe to a missing relay must fail")
	}
}

func TestRelayManager_MarkSubscriberDelete(t *testing.T) {
	m := NewRelayManager(nil)
	src := newFakeSource()
	defer src.stop()

	ref := domain.TrackRef{Owner: "p1", Kind: domain.TrackAudio}
	m.StartRelay(context.Background(), ref, src)
	ot := NewOutTrack(newLocalTrack(t), nil)
	m.Subscribe(ref, "p2", ot)

	m.MarkSubscriberDelete(ref, "p2")
	if ot.GetState() != TrackStateDelete {
		t.Fatalf("subscriber out track not marked for delete")
	}
}

func TestRelayManager_OwnedBy(t *testing.T) {
	m := NewRelayManager(nil)
	src1, src2 := newFakeSource(), newFakeSource()
	defer src1.stop()
	defer src2.stop()

	m.StartRelay(context.Background(), domain.TrackRef{Owner: "p1", Kind: domain.TrackAudio}, src1)
	m.StartRelay(context.Background(), domain.TrackRef{Owner: "p1", Kind: domain.TrackVideo}, src2)

	if got := len(m.OwnedBy("p1")); got != 2 {
		t.Fatalf("owned=%d, want 2", got)
	}
	if got := len(m.OwnedBy("p2")); got != 0 {
		t.Fatalf("owned=%d, want 0", got)
	}
}

func TestRelayManager_SourceEndFiresCallback(t *testing.T) {
	ended := make(chan domain.TrackRef, 1)
	m := NewRelayManager(func(ref domain.TrackRef) { ended <- ref })
	src := newFakeSource()

	ref := domain.TrackRef{Owner: "p1", Kind: domain.TrackVideo}
	m.StartRelay(context.Background(), ref, src)
	src.stop()

	select {
	case got := <-ended:
		if got != ref {
			t.Fatalf("ended ref=%v, want %v", got, ref)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("onEnded callback never fired")
	}
}

// A replaced relay's loop exit must not fire the end callback; that would
// cascade into stopping the relay now registered under the same key.
func TestRelayManager_ReplacedRelayEndIsSuppressed(t *testing.T) {
	ended := make(chan domain.TrackRef, 1)
	m := NewRelayManager(func(ref domain.TrackRef) { ended <- ref })
	src1, src2 := newFakeSource(), newFakeSource()
	defer src2.stop()

	ref := domain.TrackRef{Owner: "p1", Kind: domain.TrackVideo}
	m.StartRelay(context.Background(), ref, src1)
	m.StartRelay(context.Background(), ref, src2)

	src1.stop()
	select {
	case <-ended:
		t.Fatalf("replaced relay fired the end callback")
	case <-time.After(200 * time.Millisecond):
	}
	if !m.HasRelay(ref) {
		t.Fatalf("replacement relay gone")
	}
}

func TestRelayManager_ReplaceExisting(t *testing.T) {
	m := NewRelayManager(nil)
	src1, src2 := newFakeSource(), newFakeSource()
	defer src1.stop()
	defer src2.stop()

	ref := domain.TrackRef{Owner: "p1", Kind: domain.TrackVideo}
	m.StartRelay(context.Background(), ref, src1)
	ot := NewOutTrack(newLocalTrack(t), nil)
	m.Subscribe(ref, "p2", ot)

	m.StartRelay(context.Background(), ref, src2)

	if ot.GetState() != TrackStateDelete {
		t.Fatalf("old relay's subscribers must be marked for delete on replace")
	}
	got, ok := m.Src(ref)
	if !ok || got != src2 {
		t.Fatalf("replacement relay does not expose the new source")
	}
}
