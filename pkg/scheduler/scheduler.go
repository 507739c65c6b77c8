// ABOUTME: Chunk playback scheduler with overlap-triggered handoff
// ABOUTME: Maintains the device-clock to track-time reference
package scheduler

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
	"github.com/Resonate-Protocol/chunkplay/pkg/audio/output"
	"github.com/Resonate-Protocol/chunkplay/pkg/clock"
	"github.com/Resonate-Protocol/chunkplay/pkg/track"
	"go.uber.org/zap"
)

// minPlay replaces a computed play length that is not positive
const minPlay = 0.1

// TimingReference anchors device clock time to track time
type TimingReference struct {
	ClockOrigin     time.Duration
	TrackTimeOrigin float64
}

// TrackTime maps a device clock reading to a track position in seconds
func (r TimingReference) TrackTime(now time.Duration) float64 {
	return r.TrackTimeOrigin + (now - r.ClockOrigin).Seconds()
}

// PlayRequest describes one chunk to play
type PlayRequest struct {
	Index  int
	Buffer *audio.Buffer
	// Offset into the buffer in seconds (non-zero for seeks)
	Offset float64
	// IsContinuation marks a seamless handoff from chunk Index-1
	IsContinuation bool
	Track          track.Track
}

// Config configures a scheduler
type Config struct {
	// Clock drives the overlap timers (default: real time)
	Clock  clock.Clock
	Logger *zap.Logger
}

type playing struct {
	seq           uint64
	index         int
	track         track.Track
	source        output.Source
	fade          clock.Timer
	nextScheduled bool
	finished      bool
	done          chan struct{}
}

// Scheduler plays one chunk at a time on an output device
type Scheduler struct {
	device output.Device
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	seq     uint64
	active  *playing
	ref     TimingReference
	hasRef  bool
	limit   float64
	stopped bool
	stopAt  float64

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates a scheduler on an opened device
func New(device output.Device, config Config) *Scheduler {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Scheduler{
		device: device,
		clock:  config.Clock,
		logger: config.Logger.Named("scheduler"),
		subs:   make(map[int]func(Event)),
	}
}

// PlayChunk stops the active chunk and starts req. The returned channel
// closes when the chunk finishes or is superseded.
func (s *Scheduler) PlayChunk(req PlayRequest) (<-chan struct{}, error) {
	if err := audio.Validate(req.Index, req.Buffer); err != nil {
		return nil, err
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	source, err := s.device.NewSource(req.Buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to create source for chunk %d: %w", req.Index, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopActiveLocked()
	s.seq++

	duration := PlayDuration(req)
	now := s.device.Now()

	seamless := req.Offset == 0 && req.IsContinuation
	if !seamless || !s.hasRef {
		s.ref = TimingReference{
			ClockOrigin:     now,
			TrackTimeOrigin: req.Track.ChunkStart(req.Index) + req.Offset,
		}
		s.hasRef = true
	}
	s.limit = math.Min(req.Track.ChunkStart(req.Index)+req.Offset+duration, req.Track.DurationSeconds)
	s.stopped = false

	p := &playing{
		seq:    s.seq,
		index:  req.Index,
		track:  req.Track,
		source: source,
		done:   make(chan struct{}),
	}
	source.OnEnded(func() { s.sourceEnded(p) })

	if err := source.Start(now, seconds(req.Offset), seconds(duration)); err != nil {
		close(p.done)
		return nil, fmt.Errorf("failed to start chunk %d: %w", req.Index, err)
	}
	s.active = p

	if !req.Track.IsLast(req.Index) && req.Offset == 0 {
		fadeStart := math.Max(0, duration-req.Track.Overlap())
		if fadeStart > 0 {
			p.fade = s.clock.AfterFunc(seconds(fadeStart), func() { s.fadeStarted(p) })
		}
	}

	s.logger.Debug("chunk started",
		zap.Int("chunk", req.Index),
		zap.Float64("offset", req.Offset),
		zap.Float64("duration", duration),
		zap.Bool("continuation", req.IsContinuation),
		zap.Bool("reanchored", !seamless))

	return p.done, nil
}

// PlayDuration returns how much of req.Buffer PlayChunk plays, in seconds
func PlayDuration(req PlayRequest) float64 {
	available := req.Buffer.Duration() - req.Offset
	last := req.Track.IsLast(req.Index)

	var d float64
	switch {
	case req.Offset > 0:
		d = available
	case last:
		d = req.Track.DurationSeconds - req.Track.ChunkStart(req.Index)
	default:
		d = req.Track.ChunkDurationSeconds
	}
	if last {
		d = math.Min(d, req.Track.DurationSeconds-req.Track.ChunkStart(req.Index)-req.Offset)
	}
	d = math.Min(d, available)

	if d <= 0 {
		return minPlay
	}
	return d
}

func (s *Scheduler) fadeStarted(p *playing) {
	s.mu.Lock()
	if s.active != p || p.finished {
		s.mu.Unlock()
		return
	}
	p.nextScheduled = true
	s.mu.Unlock()

	s.emit(Event{Type: ScheduleNextChunk, Index: p.index + 1, Seq: p.seq})
}

func (s *Scheduler) sourceEnded(p *playing) {
	s.mu.Lock()
	if p.finished {
		s.mu.Unlock()
		return
	}
	p.finish()
	if s.active != p {
		s.mu.Unlock()
		return
	}
	s.active = nil

	events := []Event{{Type: ChunkEnded, Index: p.index, Seq: p.seq}}
	switch {
	case p.track.IsLast(p.index):
		events = append(events, Event{Type: TrackEnded, Index: p.index, Seq: p.seq})
	case !p.nextScheduled:
		events = append(events, Event{Type: PlayNextChunk, Index: p.index + 1, Seq: p.seq})
	}
	s.mu.Unlock()

	s.emit(events...)
}

func (p *playing) finish() {
	p.finished = true
	if p.fade != nil {
		p.fade.Stop()
	}
	close(p.done)
}

// stopActiveLocked disconnects the active source and cancels its timer
func (s *Scheduler) stopActiveLocked() {
	p := s.active
	if p == nil {
		return
	}
	s.active = nil
	if p.finished {
		return
	}
	p.finish()

	if err := p.source.Stop(); err != nil && !errors.Is(err, output.ErrSourceStopped) {
		s.logger.Warn("failed to stop source", zap.Int("chunk", p.index), zap.Error(err))
	}
}

// Stop halts playback and cancels any pending overlap timer
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasRef && !s.stopped {
		s.stopAt = s.currentLocked()
	}
	s.stopped = true
	s.stopActiveLocked()
	s.seq++
}

// Seq returns the sequence number of the most recent PlayChunk or Stop.
// Events carrying an older Seq belong to superseded playback.
func (s *Scheduler) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Playing reports whether a chunk is sounding
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// SetVolume sets the shared output gain (0.0-1.0)
func (s *Scheduler) SetVolume(v float64) {
	s.device.SetGain(v)
}

// Volume returns the shared output gain
func (s *Scheduler) Volume() float64 {
	return s.device.Gain()
}

// TimingReference returns the current anchor and whether one has been set
func (s *Scheduler) TimingReference() (TimingReference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ref, s.hasRef
}

// CurrentTime returns the track position derived from the timing reference.
// It holds at the end of the last started chunk while waiting for the next one.
func (s *Scheduler) CurrentTime() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasRef {
		return 0, false
	}
	if s.stopped {
		return s.stopAt, true
	}
	return s.currentLocked(), true
}

func (s *Scheduler) currentLocked() float64 {
	t := s.ref.TrackTime(s.device.Now())
	if t > s.limit {
		t = s.limit
	}
	if t < 0 {
		t = 0
	}
	return t
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
