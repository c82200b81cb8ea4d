package core

// Frame is a raw text payload delivered to one chat client.
type Frame []byte

// ChatConnection abstracts the chat messaging transport.
// Owned by the adapter; the adapter must Close() it.
type ChatConnection interface {
	TrySend(Frame) error
	Close()
}
