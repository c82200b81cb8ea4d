package app

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/realtimeconnect/hub/internal/core"
	"github.com/realtimeconnect/hub/internal/domain"
)

type identityEntry struct {
	ident *domain.Identity
	conn  core.ChatConnection
}

// Registry owns every live chat identity, keyed by handle. All other
// components hold handle strings only, never identity copies.
type Registry struct {
	mu       sync.Mutex
	byHandle map[string]*identityEntry
}

func NewRegistry() *Registry {
	return &Registry{byHandle: make(map[string]*identityEntry)}
}

// Register assigns a collision-free handle for the requested name and binds
// the connection to it. The insert-if-absent runs entirely under one lock, so
// two identical requests can never both observe the handle as free. When the
// assigned handle differs from the request, renamed is true and the caller
// must notify the client.
func (r *Registry) Register(requested string, privileged bool, conn core.ChatConnection) (string, bool, error) {
	name, ok := domain.ValidHandle(requested)
	if !ok {
		return "", false, domain.ErrInvalidIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	handle := name
	for {
		if _, taken := r.byHandle[handle]; !taken {
			break
		}
		handle = name + "_" + uuid.NewString()[:4]
	}
	r.byHandle[handle] = &identityEntry{
		ident: &domain.Identity{
			Handle:        handle,
			RequestedName: requested,
			Privileged:    privileged,
		},
		conn: conn,
	}
	log.Info().Str("module", "app.registry").Str("handle", handle).Bool("renamed", handle != name).Msg("registered identity")
	return handle, handle != name, nil
}

// Unregister removes a handle. It is idempotent: removing an absent handle is
// a no-op. The identity's room is returned so the caller can dispatch the
// leave broadcast; the registry itself never touches rooms.
func (r *Registry) Unregister(handle string) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byHandle[handle]
	if !ok {
		return "", false
	}
	delete(r.byHandle, handle)
	log.Info().Str("module", "app.registry").Str("handle", handle).Msg("unregistered identity")
	return e.ident.Room, true
}

// Lookup returns a copy of the identity and its connection.
func (r *Registry) Lookup(handle string) (domain.Identity, core.ChatConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byHandle[handle]
	if !ok {
		return domain.Identity{}, nil, false
	}
	return *e.ident, e.conn, true
}

func (r *Registry) SetRoom(handle string, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byHandle[handle]
	if !ok {
		return false
	}
	e.ident.Room = room
	return true
}

// SetLastDM records who most recently messaged the handle, for the reply command.
func (r *Registry) SetLastDM(handle, from string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byHandle[handle]; ok {
		e.ident.LastDMFrom = from
	}
}

// Handles returns every live handle, for global delivery.
func (r *Registry) Handles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byHandle))
	for h := range r.byHandle {
		out = append(out, h)
	}
	return out
}
