// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"
	"unicode/utf8"
)

const MaxHandleLen = 36

// Identity is a live chat participant. Handles are case-sensitive and unique
// across the registry; only the registry mutates this struct.
type Identity struct {
	Handle        string
	RequestedName string
	Room          RoomID
	Privileged    bool
	// LastDMFrom is the handle of the most recent direct-message sender,
	// consumed by the reply command.
	LastDMFrom string
}

// ValidHandle reports whether a requested handle is acceptable after trimming.
func ValidHandle(requested string) (string, bool) {
	name := strings.TrimSpace(requested)
	if name == "" {
		return "", false
	}
	if len(name) > MaxHandleLen {
		cut := MaxHandleLen
		// Never split a rune.
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name, true
}
