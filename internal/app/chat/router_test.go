package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/realtimeconnect/hub/internal/app"
	"github.com/realtimeconnect/hub/internal/core"
	"github.com/realtimeconnect/hub/internal/domain"
)

type fakeChatConn struct {
	mu     sync.Mutex
	frames []Message
	fail   bool
	closed bool
}

func (c *fakeChatConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("socket closed")
	}
	var m Message
	if err := json.Unmarshal(f, &m); err != nil {
		return err
	}
	c.frames = append(c.frames, m)
	return nil
}

func (c *fakeChatConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChatConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeChatConn) lastFrom(user string) (Message, bool) {
	for _, m := range c.messages() {
		if m.Username == user {
			return m, true
		}
	}
	return Message{}, false
}

type fixture struct {
	registry *app.Registry
	rooms    *app.Partition
	router   *Router
}

func newFixture() *fixture {
	registry := app.NewRegistry()
	rooms := app.NewPartition("auditorium", "")
	return &fixture{
		registry: registry,
		rooms:    rooms,
		router:   NewRouter(registry, rooms),
	}
}

func (f *fixture) connect(t *testing.T, name string, room domain.RoomID, privileged bool) *fakeChatConn {
	t.Helper()
	conn := &fakeChatConn{}
	handle, _, err := f.registry.Register(name, privileged, conn)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	if handle != name {
		t.Fatalf("handle=%q, want %q", handle, name)
	}
	if err := f.rooms.Join(handle, "", room, privileged); err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	f.registry.SetRoom(handle, room)
	return conn
}

func TestBroadcast_RoomScoped(t *testing.T) {
	f := newFixture()
	alice := f.connect(t, "alice", "r1", false)
	bob := f.connect(t, "bob", "r1", false)
	carol := f.connect(t, "carol", "r2", false)

	f.router.HandleText("alice", "hello room")

	for name, conn := range map[string]*fakeChatConn{"alice": alice, "bob": bob} {
		msg, ok := conn.lastFrom("alice")
		if !ok {
			t.Fatalf("%s did not receive the broadcast", name)
		}
		if msg.Message != "hello room" {
			t.Fatalf("%s got %q", name, msg.Message)
		}
	}
	if len(carol.messages()) != 0 {
		t.Fatalf("other-room member received a room broadcast")
	}
}

func TestBroadcast_GlobalReachesEveryRoom(t *testing.T) {
	f := newFixture()
	f.connect(t, "alice", "r1", false)
	bob := f.connect(t, "bob", "r2", false)

	f.router.HandleText("alice", "/global maintenance soon")

	if _, ok := bob.lastFrom("alice"); !ok {
		t.Fatalf("global message did not cross rooms")
	}
}

func TestDirect_CrossRoomFails(t *testing.T) {
	f := newFixture()
	bob := f.connect(t, "bob", "r1", false)
	carol := f.connect(t, "carol", "r2", false)

	err := f.router.Direct("bob", "carol", "hello")
	if !errors.Is(err, domain.ErrRecipientUnavailable) {
		t.Fatalf("err=%v, want ErrRecipientUnavailable", err)
	}
	notice, ok := bob.lastFrom(SystemUser)
	if !ok {
		t.Fatalf("sender got no system notice")
	}
	if !strings.Contains(notice.Message, "carol is not online or not in your meeting") {
		t.Fatalf("notice=%q", notice.Message)
	}
	if len(carol.messages()) != 0 {
		t.Fatalf("cross-room recipient must receive nothing")
	}
}

func TestDirect_UnknownRecipient(t *testing.T) {
	f := newFixture()
	bob := f.connect(t, "bob", "r1", false)

	if err := f.router.Direct("bob", "ghost", "boo"); !errors.Is(err, domain.ErrRecipientUnavailable) {
		t.Fatalf("err=%v, want ErrRecipientUnavailable", err)
	}
	if _, ok := bob.lastFrom(SystemUser); !ok {
		t.Fatalf("sender got no system notice")
	}
}

func TestDirect_DeliversAndRecordsReplyTarget(t *testing.T) {
	f := newFixture()
	f.connect(t, "alice", "r1", false)
	bob := f.connect(t, "bob", "r1", false)

	if err := f.router.Direct("alice", "bob", "psst"); err != nil {
		t.Fatalf("direct: %v", err)
	}
	msg, ok := bob.lastFrom("alice")
	if !ok {
		t.Fatalf("recipient got nothing")
	}
	if msg.Message != "(private) psst" {
		t.Fatalf("message=%q", msg.Message)
	}
	ident, _, _ := f.registry.Lookup("bob")
	if ident.LastDMFrom != "alice" {
		t.Fatalf("LastDMFrom=%q, want alice", ident.LastDMFrom)
	}
}

func TestReply_TargetsLastSender(t *testing.T) {
	f := newFixture()
	alice := f.connect(t, "alice", "r1", false)
	f.connect(t, "bob", "r1", false)

	if err := f.router.Direct("alice", "bob", "hi"); err != nil {
		t.Fatalf("direct: %v", err)
	}
	f.router.HandleText("bob", "/r hi back")

	msg, ok := alice.lastFrom("bob")
	if !ok {
		t.Fatalf("reply not delivered")
	}
	if msg.Message != "(private) hi back" {
		t.Fatalf("message=%q", msg.Message)
	}
}

func TestReply_WithoutPriorDM(t *testing.T) {
	f := newFixture()
	bob := f.connect(t, "bob", "r1", false)

	f.router.HandleText("bob", "/r hello?")

	notice, ok := bob.lastFrom(SystemUser)
	if !ok || !strings.Contains(notice.Message, "no one has messaged you") {
		t.Fatalf("expected no-reply-target notice, got %+v", bob.messages())
	}
}

func TestKick_OutsidePrivilegedRoomIsRejected(t *testing.T) {
	f := newFixture()
	admin := f.connect(t, "admin", "r1", true)
	f.connect(t, "bob", "r1", false)

	f.router.HandleText("admin", "/kick bob")

	notice, ok := admin.lastFrom(SystemUser)
	if !ok || !strings.Contains(notice.Message, "not allowed to kick") {
		t.Fatalf("expected privilege-violation notice, got %+v", admin.messages())
	}
	if _, _, ok := f.registry.Lookup("bob"); !ok {
		t.Fatalf("bob must not be kicked outside the privileged room")
	}
}

func TestKick_ByNonPrivilegedIsRejected(t *testing.T) {
	f := newFixture()
	mallory := f.connect(t, "mallory", "auditorium", false)
	f.connect(t, "bob", "auditorium", false)

	f.router.HandleText("mallory", "/kick bob")

	if _, ok := mallory.lastFrom(SystemUser); !ok {
		t.Fatalf("expected privilege-violation notice")
	}
	if _, _, ok := f.registry.Lookup("bob"); !ok {
		t.Fatalf("bob must not be kicked by a non-privileged identity")
	}
}

func TestKick_InPrivilegedRoom(t *testing.T) {
	f := newFixture()
	f.connect(t, "admin", "auditorium", true)
	bobConn := f.connect(t, "bob", "auditorium", false)

	f.router.HandleText("admin", "/kick bob")

	if _, _, ok := f.registry.Lookup("bob"); ok {
		t.Fatalf("bob still registered after kick")
	}
	bobConn.mu.Lock()
	closed := bobConn.closed
	bobConn.mu.Unlock()
	if !closed {
		t.Fatalf("kicked connection not closed")
	}
}

func TestAnnounce_RequiresPrivilegedRoom(t *testing.T) {
	f := newFixture()
	admin := f.connect(t, "admin", "r1", true)
	f.router.HandleText("admin", "/announce hello")
	if _, ok := admin.lastFrom(SystemUser); !ok {
		t.Fatalf("expected privilege-violation notice")
	}
}

func TestAnnounce_GoesGlobal(t *testing.T) {
	f := newFixture()
	f.connect(t, "admin", "auditorium", true)
	bob := f.connect(t, "bob", "r1", false)

	f.router.HandleText("admin", "/announce all hands at 3")

	msg, ok := bob.lastFrom(SystemUser)
	if !ok || !strings.Contains(msg.Message, "all hands at 3") {
		t.Fatalf("announcement not delivered globally, got %+v", bob.messages())
	}
}

func TestBroadcast_DeadRecipientIsEvicted(t *testing.T) {
	f := newFixture()
	alice := f.connect(t, "alice", "r1", false)
	mallory := f.connect(t, "mallory", "r1", false)
	mallory.mu.Lock()
	mallory.fail = true
	mallory.mu.Unlock()

	f.router.HandleText("alice", "anyone here?")

	if _, ok := alice.lastFrom("alice"); !ok {
		t.Fatalf("healthy recipient must still get the broadcast")
	}
	if _, _, ok := f.registry.Lookup("mallory"); ok {
		t.Fatalf("dead recipient must be evicted")
	}
	notice, ok := alice.lastFrom(SystemUser)
	if !ok || !strings.Contains(notice.Message, "mallory left the meeting") {
		t.Fatalf("room not notified of eviction, got %+v", alice.messages())
	}
}

func TestUnknownCommand_NoticesSenderOnly(t *testing.T) {
	f := newFixture()
	alice := f.connect(t, "alice", "r1", false)
	bob := f.connect(t, "bob", "r1", false)

	f.router.HandleText("alice", "/dance")

	notice, ok := alice.lastFrom(SystemUser)
	if !ok || !strings.Contains(notice.Message, "unknown command") {
		t.Fatalf("expected unknown-command notice, got %+v", alice.messages())
	}
	if len(bob.messages()) != 0 {
		t.Fatalf("unknown command leaked to the room")
	}
}

func TestWho_ListsRoomMembers(t *testing.T) {
	f := newFixture()
	alice := f.connect(t, "alice", "r1", false)
	f.connect(t, "bob", "r1", false)

	f.router.HandleText("alice", "/who")

	notice, ok := alice.lastFrom(SystemUser)
	if !ok {
		t.Fatalf("no /who reply")
	}
	if !strings.Contains(notice.Message, "alice") || !strings.Contains(notice.Message, "bob") {
		t.Fatalf("member list incomplete: %q", notice.Message)
	}
}
