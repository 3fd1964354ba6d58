package core

// Frame is a raw wire payload (one JSON message).
type Frame []byte

// SignalConnection abstracts the outbound half of the signaling transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
