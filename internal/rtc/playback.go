package rtc

import (
	"sync"

	"github.com/pion/rtp"
)

// PlaybackSink renders one remote participant's audio. Each Connection owns
// exactly one sink with the same lifecycle as the session.
type PlaybackSink interface {
	WriteRTP(*rtp.Packet) error
	// SetMuted silences rendering locally without touching the stream.
	SetMuted(bool)
	Close()
}

// SinkFactory builds the sink for one peer. Actual audio render device I/O
// is supplied by the embedding application.
type SinkFactory func(peer string) PlaybackSink

// NullSink discards audio. Used when no render device is wired, keeping
// voiceless operation intact.
type NullSink struct {
	mu    sync.Mutex
	muted bool
}

func NewNullSink() *NullSink { return &NullSink{} }

func (n *NullSink) WriteRTP(*rtp.Packet) error { return nil }

func (n *NullSink) SetMuted(muted bool) {
	n.mu.Lock()
	n.muted = muted
	n.mu.Unlock()
}

func (n *NullSink) Muted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.muted
}

func (n *NullSink) Close() {}
