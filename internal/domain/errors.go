package domain

import "errors"

var (
	// ErrInvalidIdentity rejects empty or malformed chat handles at the boundary.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrRoomPolicy rejects room ids that fail the configured prefix policy.
	ErrRoomPolicy = errors.New("room policy violation")
	// ErrInvalidOffer rejects malformed SDP before any session state exists.
	ErrInvalidOffer = errors.New("invalid offer")
	// ErrSessionNotFound marks operations on a stale peer id; logged, never fatal.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRecipientUnavailable means a DM target is offline or in another meeting.
	ErrRecipientUnavailable = errors.New("recipient unavailable")
)
