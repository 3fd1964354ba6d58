package rtc

import (
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"voicemesh/internal/core"
)

const sampleFrame = 20 * time.Millisecond

// opusSilence is a minimal Opus frame decoding to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// NullDevice is a stand-in capture capability: zero energy, silent frames on
// the normal cadence. Real microphone I/O is supplied by the embedding
// application; this keeps the pipeline running without one.
type NullDevice struct{}

func (NullDevice) Acquire(core.CaptureConstraints) (core.CaptureHandle, error) {
	return &nullHandle{closed: make(chan struct{})}, nil
}

type nullHandle struct {
	mu      sync.Mutex
	once    sync.Once
	closed  chan struct{}
	enabled bool
}

func (h *nullHandle) SetEnabled(enabled bool) {
	h.mu.Lock()
	h.enabled = enabled
	h.mu.Unlock()
}

func (h *nullHandle) Level() (float64, error) { return 0, nil }

func (h *nullHandle) ReadSample() (media.Sample, error) {
	select {
	case <-h.closed:
		return media.Sample{}, io.EOF
	case <-time.After(sampleFrame):
		return media.Sample{Data: opusSilence, Duration: sampleFrame}, nil
	}
}

func (h *nullHandle) Close() {
	h.once.Do(func() { close(h.closed) })
}
