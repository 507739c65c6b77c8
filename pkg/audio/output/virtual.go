// ABOUTME: Headless output device driven by a clock
// ABOUTME: Simulates sources ending after their duration without hardware
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
	"github.com/Resonate-Protocol/chunkplay/pkg/clock"
)

// Start describes one Source.Start call on a virtual device
type Start struct {
	Buffer   *audio.Buffer
	When     time.Duration
	Offset   time.Duration
	Duration time.Duration
}

// Virtual is a Device that renders nothing and ends sources on the clock
type Virtual struct {
	mu         sync.Mutex
	clock      clock.Clock
	origin     time.Time
	gain       float64
	sampleRate int
	channels   int
	starts     []Start
	active     int
}

// NewVirtual creates a virtual device on the given clock
func NewVirtual(c clock.Clock) *Virtual {
	if c == nil {
		c = clock.Real()
	}
	return &Virtual{
		clock:  c,
		origin: c.Now(),
		gain:   1.0,
	}
}

// Open records the format; the virtual device accepts any
func (v *Virtual) Open(sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid output format: %dHz %dch", sampleRate, channels)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sampleRate = sampleRate
	v.channels = channels
	return nil
}

// Now returns time elapsed on the clock since the device was created
func (v *Virtual) Now() time.Duration {
	return v.clock.Now().Sub(v.origin)
}

// NewSource creates a source for buf
func (v *Virtual) NewSource(buf *audio.Buffer) (Source, error) {
	if err := audio.Validate(-1, buf); err != nil {
		return nil, err
	}
	return &virtualSource{device: v, buf: buf}, nil
}

// SetGain sets the shared gain
func (v *Virtual) SetGain(gain float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gain = clampGain(gain)
}

// Gain returns the shared gain
func (v *Virtual) Gain() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gain
}

// Starts returns every Start call made so far
func (v *Virtual) Starts() []Start {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Start, len(v.starts))
	copy(out, v.starts)
	return out
}

// Active returns how many sources are currently sounding
func (v *Virtual) Active() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Close is a no-op for the virtual device
func (v *Virtual) Close() error {
	return nil
}

type virtualSource struct {
	device  *Virtual
	buf     *audio.Buffer
	mu      sync.Mutex
	timer   clock.Timer
	started bool
	done    bool
	onEnded func()
}

func (s *virtualSource) Start(when, offset, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSourceStarted
	}
	s.started = true

	delay := when - s.device.Now()
	if delay < 0 {
		delay = 0
	}

	s.device.mu.Lock()
	s.device.starts = append(s.device.starts, Start{Buffer: s.buf, When: when, Offset: offset, Duration: duration})
	s.device.active++
	s.device.mu.Unlock()

	s.timer = s.device.clock.AfterFunc(delay+duration, s.finish)
	return nil
}

func (s *virtualSource) finish() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	f := s.onEnded
	s.mu.Unlock()

	s.device.mu.Lock()
	s.device.active--
	s.device.mu.Unlock()

	if f != nil {
		f()
	}
}

func (s *virtualSource) Stop() error {
	s.mu.Lock()
	if !s.started || s.done {
		s.mu.Unlock()
		return ErrSourceStopped
	}
	s.done = true
	s.timer.Stop()
	f := s.onEnded
	s.mu.Unlock()

	s.device.mu.Lock()
	s.device.active--
	s.device.mu.Unlock()

	// Ended handlers run asynchronously, as on real hardware
	if f != nil {
		go f()
	}
	return nil
}

func (s *virtualSource) OnEnded(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = f
}
