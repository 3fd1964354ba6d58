package rtc

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"voicemesh/internal/core"
)

// fakeDevice hands out fakeHandles and counts acquisitions. A non-nil gate
// parks callers inside Acquire until it is closed.
type fakeDevice struct {
	mu       sync.Mutex
	acquires int
	pending  int
	denied   bool
	gate     chan struct{}
	handles  []*fakeHandle
}

func (d *fakeDevice) Acquire(core.CaptureConstraints) (core.CaptureHandle, error) {
	d.mu.Lock()
	if d.denied {
		d.mu.Unlock()
		return nil, errors.New("permission denied")
	}
	gate := d.gate
	d.pending++
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	d.acquires++
	h := &fakeHandle{closed: make(chan struct{}), enabled: true}
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *fakeDevice) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *fakeDevice) totalCloses() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, h := range d.handles {
		n += h.closeCount()
	}
	return n
}

func (d *fakeDevice) lastHandle() *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

type fakeHandle struct {
	mu      sync.Mutex
	once    sync.Once
	closed  chan struct{}
	enabled bool
	level   float64
	closes  int
}

func (h *fakeHandle) SetEnabled(enabled bool) {
	h.mu.Lock()
	h.enabled = enabled
	h.mu.Unlock()
}

func (h *fakeHandle) isEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

func (h *fakeHandle) Level() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, nil
}

// ReadSample blocks until the handle closes so the pump stays parked.
func (h *fakeHandle) ReadSample() (media.Sample, error) {
	<-h.closed
	return media.Sample{}, io.EOF
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	h.closes++
	h.mu.Unlock()
	h.once.Do(func() { close(h.closed) })
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func TestAcquireOpensDeviceOnce(t *testing.T) {
	dev := &fakeDevice{}
	sc := NewSharedCapture(dev, core.CaptureConstraints{})

	if err := sc.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := sc.Acquire(); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if dev.acquires != 1 {
		t.Fatalf("device must open once, got %d", dev.acquires)
	}
	if sc.Refs() != 2 {
		t.Fatalf("expected 2 refs, got %d", sc.Refs())
	}
	if sc.Track() == nil {
		t.Fatal("acquired capture must expose the shared track")
	}
}

func TestReleaseClosesDeviceAtZero(t *testing.T) {
	dev := &fakeDevice{}
	sc := NewSharedCapture(dev, core.CaptureConstraints{})
	_ = sc.Acquire()
	_ = sc.Acquire()
	handle := dev.lastHandle()

	sc.Release()
	if handle.closeCount() != 0 {
		t.Fatal("device must stay open while referenced")
	}

	sc.Release()
	if handle.closeCount() != 1 {
		t.Fatalf("device must close exactly once at zero refs, got %d", handle.closeCount())
	}
	if sc.Track() != nil {
		t.Fatal("released capture must drop the track")
	}

	// Extra releases are no-ops.
	sc.Release()
	if handle.closeCount() != 1 {
		t.Fatal("extra release must not close again")
	}
}

func TestAcquireDenied(t *testing.T) {
	dev := &fakeDevice{denied: true}
	sc := NewSharedCapture(dev, core.CaptureConstraints{})

	if err := sc.Acquire(); err == nil {
		t.Fatal("expected acquisition error")
	}
	if sc.Refs() != 0 {
		t.Fatalf("denied acquire must not hold a ref, got %d", sc.Refs())
	}
}

func TestMuteIntentAppliedOnGrant(t *testing.T) {
	dev := &fakeDevice{}
	sc := NewSharedCapture(dev, core.CaptureConstraints{})

	// Intent recorded before any device exists.
	sc.SetMuted(true)
	if err := sc.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if dev.lastHandle().isEnabled() {
		t.Fatal("pending mute must apply the moment capture starts")
	}

	sc.SetMuted(false)
	if !dev.lastHandle().isEnabled() {
		t.Fatal("unmute must reach the live handle")
	}
	if sc.Muted() {
		t.Fatal("muted flag out of sync")
	}
}

func TestLevelRequiresAcquisition(t *testing.T) {
	dev := &fakeDevice{}
	sc := NewSharedCapture(dev, core.CaptureConstraints{})

	if _, err := sc.Level(); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}

	_ = sc.Acquire()
	dev.lastHandle().mu.Lock()
	dev.lastHandle().level = 42
	dev.lastHandle().mu.Unlock()

	level, err := sc.Level()
	if err != nil || level != 42 {
		t.Fatalf("expected level 42, got %v %v", level, err)
	}
	sc.Release()
}

func TestConcurrentFirstAcquireKeepsOneDevice(t *testing.T) {
	dev := &fakeDevice{gate: make(chan struct{})}
	sc := NewSharedCapture(dev, core.CaptureConstraints{})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- sc.Acquire() }()
	}

	// Both callers must be parked inside the device open before it is
	// allowed to complete.
	deadline := time.Now().Add(3 * time.Second)
	for dev.pendingCount() != 2 {
		if time.Now().After(deadline) {
			t.Fatal("both acquisitions should reach the device")
		}
		time.Sleep(time.Millisecond)
	}
	close(dev.gate)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}

	if sc.Refs() != 2 {
		t.Fatalf("expected 2 refs, got %d", sc.Refs())
	}
	// Two opens raced, the loser's handle must already be closed again.
	if dev.acquires != 2 || dev.totalCloses() != 1 {
		t.Fatalf("expected the losing handle closed, got %d opens %d closes", dev.acquires, dev.totalCloses())
	}

	sc.Release()
	sc.Release()
	if dev.totalCloses() != 2 {
		t.Fatalf("winner must close at zero refs, got %d closes", dev.totalCloses())
	}
}

func TestReacquireAfterFullRelease(t *testing.T) {
	dev := &fakeDevice{}
	sc := NewSharedCapture(dev, core.CaptureConstraints{})

	_ = sc.Acquire()
	sc.Release()
	if err := sc.Acquire(); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if dev.acquires != 2 {
		t.Fatalf("expected a fresh device open, got %d", dev.acquires)
	}
	sc.Release()
}
