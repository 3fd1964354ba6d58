package core

import "github.com/pion/webrtc/v4/pkg/media"

// CaptureConstraints are pass-through options for the local audio capability.
type CaptureConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	InputDeviceID    string
}

// CaptureDevice is the local audio capability. Acquire may block until the
// user grants access, so it must never be called from the inbound event
// dispatch path.
type CaptureDevice interface {
	Acquire(CaptureConstraints) (CaptureHandle, error)
}

// CaptureHandle is one live capture stream. A single handle feeds every
// outbound media leg in the room.
type CaptureHandle interface {
	// SetEnabled toggles whether captured audio is transmitted at all.
	SetEnabled(bool)
	// Level returns the instantaneous input energy for voice activity
	// detection.
	Level() (float64, error)
	// ReadSample blocks until the next encoded audio sample is available.
	ReadSample() (media.Sample, error)
	Close()
}
