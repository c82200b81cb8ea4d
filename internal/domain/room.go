package domain

// Rooms partition both chat identities and media peers. They exist only as
// keys: created implicitly on first join, removed as soon as both sets are
// empty, so there is no room entity to hold.
type (
	RoomID string
	PeerID string
)
