// Package vad derives a boolean speaking indicator from the local capture
// level on a fixed cadence.
package vad

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval  = 80 * time.Millisecond
	DefaultThreshold = 12.0
)

// Detector samples an energy source on a timer and publishes a derived
// speaking flag. It never blocks negotiation flow; a failed sample reads as
// silence, and an active local mute forces the flag off regardless of
// measured energy.
type Detector struct {
	interval  time.Duration
	threshold float64
	level     func() (float64, error)
	muted     func() bool
	onChange  func(bool)

	mu       sync.Mutex
	speaking bool
	cancel   context.CancelFunc
}

// Config for a Detector. Level is required; Muted and OnChange may be nil.
type Config struct {
	Interval  time.Duration
	Threshold float64
	Level     func() (float64, error)
	Muted     func() bool
	OnChange  func(speaking bool)
}

func New(cfg Config) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Detector{
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		level:     cfg.Level,
		muted:     cfg.Muted,
		onChange:  cfg.OnChange,
	}
}

// Start begins sampling until ctx is done or Stop is called. Calling Start on
// a running detector restarts it.
func (d *Detector) Start(ctx context.Context) {
	d.Stop()

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go d.loop(ctx)
}

// Stop halts sampling, releases the timer and resets the flag to silent.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.set(false)
}

// Speaking returns the current derived flag.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

func (d *Detector) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.set(false)
			return
		case <-ticker.C:
			d.Sample()
		}
	}
}

// Sample runs one detection cycle. Exported so the cadence can be driven
// directly in tests.
func (d *Detector) Sample() {
	if d.muted != nil && d.muted() {
		d.set(false)
		return
	}
	energy, err := d.level()
	if err != nil {
		log.Debug().Err(err).Str("module", "vad").Msg("level read failed, treating as silence")
		d.set(false)
		return
	}
	d.set(energy > d.threshold)
}

func (d *Detector) set(speaking bool) {
	d.mu.Lock()
	changed := d.speaking != speaking
	d.speaking = speaking
	onChange := d.onChange
	d.mu.Unlock()
	if changed && onChange != nil {
		onChange(speaking)
	}
}
