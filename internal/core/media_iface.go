package core

// ConnState is the per-peer connection state machine of a media session.
type ConnState int

const (
	StateNew ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s ConnState) Terminal() bool { return s == StateClosed }

// MediaSession is one negotiation and media relationship with a single
// remote participant, backed by an opaque real-time transport. SDP and ICE
// mechanics stay behind this interface.
type MediaSession interface {
	// CreateOffer produces the local offer SDP (initiator side).
	CreateOffer() (string, error)
	// ApplyOfferAndCreateAnswer sets the remote offer and returns the answer
	// SDP (responder side).
	ApplyOfferAndCreateAnswer(sdp string) (string, error)
	// ApplyAnswer completes negotiation on the initiator side.
	ApplyAnswer(sdp string) error
	// AddRemoteCandidate applies a remote ICE candidate. Callers must not
	// invoke it before a remote description is set.
	AddRemoteCandidate(candidate string) error
	// OnLocalCandidate sets a callback for newly gathered local candidates.
	OnLocalCandidate(func(candidate string))
	// OnStateChange sets a callback for transport-level state transitions.
	OnStateChange(func(ConnState))
	// SetPlaybackMuted silences this peer's rendered audio locally without
	// touching the underlying connection.
	SetPlaybackMuted(bool)
	// Close releases all media resources. Safe to call multiple times.
	Close()
}
