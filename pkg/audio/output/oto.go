// ABOUTME: Oto-based audio output implementation
// ABOUTME: Plays each scheduled source as its own oto player over shared gain
package output

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
	"github.com/Resonate-Protocol/chunkplay/pkg/audio/resample"
	"github.com/ebitengine/oto/v3"
)

// endPollInterval is how often a source checks whether oto drained it
const endPollInterval = 10 * time.Millisecond

// Oto output implementation using oto library
type Oto struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	opened     time.Time
	sampleRate int
	channels   int
	gain       float64
	sources    map[*otoSource]struct{}
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{
		gain:    1.0,
		sources: make(map[*otoSource]struct{}),
	}
}

// Open initializes the output device
func (o *Oto) Open(sampleRate, channels int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	// If already initialized with same format, reuse the existing context
	if o.otoCtx != nil && o.sampleRate == sampleRate && o.channels == channels {
		return nil
	}

	// oto allows one context per process; later buffers are converted to this format
	if o.otoCtx != nil {
		log.Printf("Warning: output stays at %dHz %dch, requested %dHz %dch will be converted",
			o.sampleRate, o.channels, sampleRate, channels)
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}

	<-readyChan

	o.otoCtx = ctx
	o.sampleRate = sampleRate
	o.channels = channels
	o.opened = time.Now()

	log.Printf("Audio output initialized: %dHz, %d channels", sampleRate, channels)

	return nil
}

// Now returns the time since the device was opened
func (o *Oto) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.otoCtx == nil {
		return 0
	}
	return time.Since(o.opened)
}

// NewSource converts buf to the device format and wraps it in a source
func (o *Oto) NewSource(buf *audio.Buffer) (Source, error) {
	if err := audio.Validate(-1, buf); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.otoCtx == nil {
		return nil, fmt.Errorf("output not initialized")
	}

	converted := remix(resample.ToRate(buf, o.sampleRate), o.channels)
	return &otoSource{device: o, buf: converted}, nil
}

// SetGain sets the shared gain and applies it to sounding sources
func (o *Oto) SetGain(gain float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.gain = clampGain(gain)
	for s := range o.sources {
		s.player.SetVolume(o.gain)
	}
}

// Gain returns the shared gain
func (o *Oto) Gain() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gain
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	sources := make([]*otoSource, 0, len(o.sources))
	for s := range o.sources {
		sources = append(sources, s)
	}
	o.mu.Unlock()

	for _, s := range sources {
		_ = s.Stop()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}

type otoSource struct {
	device  *Oto
	buf     *audio.Buffer
	mu      sync.Mutex
	player  *oto.Player
	delay   *time.Timer
	started bool
	done    bool
	onEnded func()
}

func (s *otoSource) Start(when, offset, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSourceStarted
	}
	s.started = true

	pcm := toInt16LE(s.buf.Window(offset.Seconds(), duration.Seconds()))

	s.device.mu.Lock()
	s.player = s.device.otoCtx.NewPlayer(bytes.NewReader(pcm))
	s.player.SetVolume(s.device.gain)
	s.device.sources[s] = struct{}{}
	s.device.mu.Unlock()

	delay := when - s.device.Now()
	if delay > 0 {
		s.delay = time.AfterFunc(delay, s.play)
	} else {
		go s.play()
	}
	return nil
}

func (s *otoSource) play() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.player.Play()
	s.mu.Unlock()

	ticker := time.NewTicker(endPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			return
		}
		if !s.player.IsPlaying() {
			s.mu.Unlock()
			s.finish()
			return
		}
		s.mu.Unlock()
	}
}

// finish marks the source done and runs the ended handler once
func (s *otoSource) finish() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	f := s.onEnded
	player := s.player
	s.mu.Unlock()

	s.release(player)
	if f != nil {
		f()
	}
}

func (s *otoSource) Stop() error {
	s.mu.Lock()
	if !s.started || s.done {
		s.mu.Unlock()
		return ErrSourceStopped
	}
	s.done = true
	if s.delay != nil {
		s.delay.Stop()
	}
	f := s.onEnded
	player := s.player
	s.mu.Unlock()

	player.Pause()
	s.release(player)
	if f != nil {
		go f()
	}
	return nil
}

func (s *otoSource) release(player *oto.Player) {
	s.device.mu.Lock()
	delete(s.device.sources, s)
	s.device.mu.Unlock()

	if err := player.Close(); err != nil {
		log.Printf("Failed to close oto player: %v", err)
	}
}

func (s *otoSource) OnEnded(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = f
}

// toInt16LE converts 24-bit-range samples to 16-bit little-endian bytes for oto
func toInt16LE(samples []int32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(audio.SampleToInt16(s)))
	}
	return out
}

// remix converts a buffer between mono and multichannel layouts
func remix(buf *audio.Buffer, channels int) *audio.Buffer {
	from := buf.Format.Channels
	if from == channels {
		return buf
	}

	frames := buf.Frames()
	out := make([]int32, frames*channels)
	for f := 0; f < frames; f++ {
		in := buf.Samples[f*from : (f+1)*from]
		if channels == 1 {
			var sum int64
			for _, s := range in {
				sum += int64(s)
			}
			out[f] = int32(sum / int64(from))
			continue
		}
		for ch := 0; ch < channels; ch++ {
			out[f*channels+ch] = in[ch%from]
		}
	}

	format := buf.Format
	format.Channels = channels
	return &audio.Buffer{Samples: out, Format: format}
}
