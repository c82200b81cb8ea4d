package app

import (
	"errors"
	"strings"
	"testing"

	"github.com/realtimeconnect/hub/internal/core"
	"github.com/realtimeconnect/hub/internal/domain"
)

type stubConn struct {
	closed bool
}

func (c *stubConn) TrySend(core.Frame) error { return nil }
func (c *stubConn) Close()                   { c.closed = true }

func TestRegister_AssignsRequestedHandle(t *testing.T) {
	r := NewRegistry()
	handle, renamed, err := r.Register("alice", false, &stubConn{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if handle != "alice" {
		t.Fatalf("handle=%q, want alice", handle)
	}
	if renamed {
		t.Fatalf("expected no rename for a free handle")
	}
}

func TestRegister_DuplicateGetsDisambiguated(t *testing.T) {
	r := NewRegistry()
	if _, _, err := r.Register("alice", false, &stubConn{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	handle, renamed, err := r.Register("alice", false, &stubConn{})
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if !renamed {
		t.Fatalf("expected rename flag on collision")
	}
	if handle == "alice" || !strings.HasPrefix(handle, "alice_") {
		t.Fatalf("handle=%q, want alice_<suffix>", handle)
	}
	if len(handle) != len("alice_")+4 {
		t.Fatalf("handle=%q, want a 4-char suffix", handle)
	}
}

func TestRegister_NoTwoLiveIdentitiesShareAHandle(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		handle, _, err := r.Register("bob", false, &stubConn{})
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		if seen[handle] {
			t.Fatalf("handle %q assigned twice", handle)
		}
		seen[handle] = true
	}
}

func TestRegister_RejectsEmptyAndWhitespace(t *testing.T) {
	r := NewRegistry()
	for _, requested := range []string{"", "   ", "\t\n"} {
		if _, _, err := r.Register(requested, false, &stubConn{}); !errors.Is(err, domain.ErrInvalidIdentity) {
			t.Fatalf("Register(%q): err=%v, want ErrInvalidIdentity", requested, err)
		}
	}
}

func TestRegister_TrimsWhitespace(t *testing.T) {
	r := NewRegistry()
	handle, _, err := r.Register("  carol  ", false, &stubConn{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if handle != "carol" {
		t.Fatalf("handle=%q, want carol", handle)
	}
}

func TestUnregister_IsIdempotent(t *testing.T) {
	r := NewRegistry()
	handle, _, err := r.Register("dave", false, &stubConn{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	r.SetRoom(handle, "meeting-1")

	room, ok := r.Unregister(handle)
	if !ok {
		t.Fatalf("first unregister reported absent handle")
	}
	if room != "meeting-1" {
		t.Fatalf("room=%q, want meeting-1", room)
	}
	if _, ok := r.Unregister(handle); ok {
		t.Fatalf("second unregister should be a no-op")
	}
	if _, _, ok := r.Lookup(handle); ok {
		t.Fatalf("handle still resolvable after unregister")
	}
}

func TestSetLastDM(t *testing.T) {
	r := NewRegistry()
	handle, _, _ := r.Register("erin", false, &stubConn{})
	r.SetLastDM(handle, "frank")
	ident, _, ok := r.Lookup(handle)
	if !ok {
		t.Fatalf("lookup failed")
	}
	if ident.LastDMFrom != "frank" {
		t.Fatalf("LastDMFrom=%q, want frank", ident.LastDMFrom)
	}
}

func TestHandles_ListsEveryLiveIdentity(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := r.Register(name, false, &stubConn{}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if got := len(r.Handles()); got != 3 {
		t.Fatalf("handles=%d, want 3", got)
	}
}
