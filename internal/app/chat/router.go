package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/realtimeconnect/hub/internal/app"
	"github.com/realtimeconnect/hub/internal/core"
	"github.com/realtimeconnect/hub/internal/domain"
)

const SystemUser = "System"

const helpText = "commands: /msg <name> <text>, /r <text>, /global <text>, /who, /help" +
	"; privileged, inside the privileged meeting: /kick <name>, /announce <text>"

// Message is the wire payload delivered to chat clients.
type Message struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Router delivers room-scoped broadcasts and direct messages. Delivery
// failures never abort a fan-out: the dead recipient is evicted as if it had
// disconnected and the rest of the delivery proceeds.
type Router struct {
	registry *app.Registry
	rooms    *app.Partition
}

func NewRouter(registry *app.Registry, rooms *app.Partition) *Router {
	return &Router{registry: registry, rooms: rooms}
}

// HandleText routes one inbound chat line from a registered identity.
func (r *Router) HandleText(sender, raw string) {
	ident, _, ok := r.registry.Lookup(sender)
	if !ok {
		log.Warn().Str("module", "chat").Str("sender", sender).Msg("text from unknown identity")
		return
	}

	cmd := Parse(raw)
	switch cmd.Kind {
	case CmdSay:
		if cmd.Text == "" {
			return
		}
		r.Broadcast(ident.Room, sender, cmd.Text)
	case CmdDirect:
		_ = r.Direct(sender, cmd.Target, cmd.Text)
	case CmdReply:
		if ident.LastDMFrom == "" {
			r.Notice(sender, "no one has messaged you yet")
			return
		}
		_ = r.Direct(sender, ident.LastDMFrom, cmd.Text)
	case CmdGlobal:
		r.Broadcast("", sender, cmd.Text)
	case CmdHelp:
		r.Notice(sender, helpText)
	case CmdWho:
		r.who(sender, ident.Room)
	case CmdKick:
		r.kick(ident, cmd.Target)
	case CmdAnnounce:
		r.announce(ident, cmd.Text)
	case CmdInvalid:
		r.Notice(sender, cmd.Text)
	case CmdUnknown:
		r.Notice(sender, fmt.Sprintf("unknown command %s, try /help", cmd.Name))
	}
}

// Broadcast sends text to every member of the room, or to every connected
// identity when room is empty (the explicit global command).
func (r *Router) Broadcast(room domain.RoomID, sender, text string) {
	var recipients []string
	if room == "" {
		recipients = r.registry.Handles()
	} else {
		recipients = r.rooms.MembersOf(room)
	}
	r.deliver(recipients, Message{Username: sender, Message: text})
}

// SystemBroadcast sends a system notice to a room (or globally when room is
// empty). Used for join/leave notices and announcements.
func (r *Router) SystemBroadcast(room domain.RoomID, text string) {
	r.Broadcast(room, SystemUser, text)
}

// Direct delivers a user-to-user message. Sender and recipient must share a
// meeting; otherwise the failure is reported to the sender as a chat notice,
// never as a transport error.
func (r *Router) Direct(sender, recipient, text string) error {
	sIdent, _, ok := r.registry.Lookup(sender)
	if !ok {
		return domain.ErrRecipientUnavailable
	}
	rIdent, conn, ok := r.registry.Lookup(recipient)
	if !ok || rIdent.Room == "" || rIdent.Room != sIdent.Room {
		r.Notice(sender, fmt.Sprintf("%s is not online or not in your meeting", recipient))
		return fmt.Errorf("%w: %s", domain.ErrRecipientUnavailable, recipient)
	}

	msg := Message{Username: sender, Message: "(private) " + text}
	if err := r.send(recipient, conn, msg); err != nil {
		r.Notice(sender, fmt.Sprintf("%s is not online or not in your meeting", recipient))
		return fmt.Errorf("%w: %s", domain.ErrRecipientUnavailable, recipient)
	}
	r.registry.SetLastDM(recipient, sender)
	r.Notice(sender, fmt.Sprintf("(private to %s) %s", recipient, text))
	return nil
}

// Notice sends a system message to one identity only.
func (r *Router) Notice(handle, text string) {
	_, conn, ok := r.registry.Lookup(handle)
	if !ok {
		return
	}
	_ = r.send(handle, conn, Message{Username: SystemUser, Message: text})
}

// Evict removes an identity as if it had disconnected: unregister, leave the
// partition, close the transport, and notify its former meeting.
func (r *Router) Evict(handle string) {
	_, conn, found := r.registry.Lookup(handle)
	room, ok := r.registry.Unregister(handle)
	r.rooms.Leave(handle, "")
	if found && conn != nil {
		conn.Close()
	}
	if ok && room != "" {
		r.SystemBroadcast(room, fmt.Sprintf("User %s left the meeting.", handle))
	}
}

func (r *Router) who(sender string, room domain.RoomID) {
	if room == "" {
		r.Notice(sender, "you are not in a meeting")
		return
	}
	members := r.rooms.MembersOf(room)
	r.Notice(sender, "online here: "+strings.Join(members, ", "))
}

// kick and announce are effective only for privileged identities inside the
// privileged meeting; anywhere else they yield a privilege-violation notice
// to the sender.
func (r *Router) kick(ident domain.Identity, target string) {
	if !ident.Privileged || ident.Room != r.rooms.PrivilegedRoom() {
		r.Notice(ident.Handle, "you are not allowed to kick here")
		return
	}
	tIdent, _, ok := r.registry.Lookup(target)
	if !ok || tIdent.Room != ident.Room {
		r.Notice(ident.Handle, fmt.Sprintf("%s is not online or not in your meeting", target))
		return
	}
	room := tIdent.Room
	r.Evict(target)
	r.SystemBroadcast(room, fmt.Sprintf("User %s was removed from the meeting.", target))
}

func (r *Router) announce(ident domain.Identity, text string) {
	if !ident.Privileged || ident.Room != r.rooms.PrivilegedRoom() {
		r.Notice(ident.Handle, "you are not allowed to announce here")
		return
	}
	r.SystemBroadcast("", "ANNOUNCEMENT: "+text)
}

func (r *Router) deliver(recipients []string, msg Message) {
	var dead []string
	for _, handle := range recipients {
		_, conn, ok := r.registry.Lookup(handle)
		if !ok {
			continue
		}
		if err := r.send(handle, conn, msg); err != nil {
			dead = append(dead, handle)
		}
	}
	// Eviction happens after the fan-out so one dead socket never blocks
	// delivery to the rest.
	for _, handle := range dead {
		r.Evict(handle)
	}
}

func (r *Router) send(handle string, conn core.ChatConnection, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.TrySend(core.Frame(b)); err != nil {
		log.Warn().Err(err).Str("module", "chat").Str("handle", handle).Msg("send failed")
		return err
	}
	return nil
}
