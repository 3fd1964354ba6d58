package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"voicemesh/internal/core"
)

var ErrNotAcquired = errors.New("capture not acquired")

// SharedCapture reference-counts the local audio capability. One capture
// stream feeds every outbound media leg; it is acquired lazily on first need
// and the device is released exactly once, when the last consumer lets go.
// Mute intent set before the device is granted is remembered and applied the
// moment capture starts.
type SharedCapture struct {
	device      core.CaptureDevice
	constraints core.CaptureConstraints

	mu     sync.Mutex
	refs   int
	handle core.CaptureHandle
	track  *webrtc.TrackLocalStaticSample
	muted  bool
	stop   chan struct{}
}

func NewSharedCapture(device core.CaptureDevice, constraints core.CaptureConstraints) *SharedCapture {
	return &SharedCapture{device: device, constraints: constraints}
}

// Acquire takes a reference, opening the device on the first one. It may
// block until the user grants access, so callers must stay off the inbound
// event dispatch path.
func (s *SharedCapture) Acquire() error {
	s.mu.Lock()
	if s.refs > 0 {
		s.refs++
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	handle, err := s.device.Acquire(s.constraints)
	if err != nil {
		return err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "voicemesh",
	)
	if err != nil {
		handle.Close()
		return err
	}

	s.mu.Lock()
	if s.refs > 0 {
		// Another caller won the open race while we were acquiring; keep
		// its device and discard ours.
		s.refs++
		s.mu.Unlock()
		handle.Close()
		return nil
	}
	s.refs = 1
	s.handle = handle
	s.track = track
	s.stop = make(chan struct{})
	handle.SetEnabled(!s.muted)
	stop := s.stop
	s.mu.Unlock()

	go s.pump(handle, track, stop)
	log.Info().Str("module", "rtc").Msg("capture acquired")
	return nil
}

// Release drops one reference and closes the device at zero. Extra releases
// are no-ops.
func (s *SharedCapture) Release() {
	s.mu.Lock()
	if s.refs == 0 {
		s.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		s.mu.Unlock()
		return
	}
	handle := s.handle
	stop := s.stop
	s.handle = nil
	s.track = nil
	s.stop = nil
	s.mu.Unlock()

	close(stop)
	handle.Close()
	log.Info().Str("module", "rtc").Msg("capture released")
}

// pump moves samples from the device into the shared outbound track. Muted
// capture transmits nothing; read errors end the pump.
func (s *SharedCapture) pump(handle core.CaptureHandle, track *webrtc.TrackLocalStaticSample, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		sample, err := handle.ReadSample()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc").Msg("capture pump stopped")
			return
		}
		if s.Muted() {
			continue
		}
		if err := track.WriteSample(sample); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("track write")
			return
		}
	}
}

// SetMuted records the cross-session transmit intent and applies it to the
// live handle, if any.
func (s *SharedCapture) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	handle := s.handle
	s.mu.Unlock()
	if handle != nil {
		handle.SetEnabled(!muted)
	}
}

func (s *SharedCapture) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Level reads the current input energy. Unacquired capture reads as an
// error, which the voice activity detector treats as silence.
func (s *SharedCapture) Level() (float64, error) {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return 0, ErrNotAcquired
	}
	return handle.Level()
}

// Track returns the shared outbound track, nil while not acquired.
func (s *SharedCapture) Track() *webrtc.TrackLocalStaticSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// Refs reports the current consumer count.
func (s *SharedCapture) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
