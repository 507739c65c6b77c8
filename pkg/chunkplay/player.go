// ABOUTME: Player orchestrates track loading, playback controls and mode switches
// ABOUTME: All session state is mutated on a single loop goroutine
package chunkplay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
	"github.com/Resonate-Protocol/chunkplay/pkg/audio/output"
	"github.com/Resonate-Protocol/chunkplay/pkg/clock"
	"github.com/Resonate-Protocol/chunkplay/pkg/fetch"
	"github.com/Resonate-Protocol/chunkplay/pkg/latency"
	"github.com/Resonate-Protocol/chunkplay/pkg/scheduler"
	"github.com/Resonate-Protocol/chunkplay/pkg/track"
)

// Source is the chunk server a Player reads from
type Source interface {
	fetch.Transport

	// FetchMetadata returns a track's layout in a delivery mode
	FetchMetadata(ctx context.Context, trackID, mode, preset string) (track.Metadata, error)

	// FetchTrack downloads a whole enhanced track
	FetchTrack(ctx context.Context, trackID, preset string) (*fetch.Payload, error)
}

// Config holds player configuration
type Config struct {
	// Mode is the initial delivery mode (default: chunked)
	Mode Mode

	// Preset is the initial enhancement preset
	Preset string

	// Volume is the initial volume (0-100, default: 100)
	Volume int

	// PrefetchAhead is how many chunks past the playing one are kept warm (default: 2)
	PrefetchAhead int

	// PrefetchConcurrency bounds parallel chunk fetches (default: 3)
	PrefetchConcurrency int

	// Backoff spaces chunk fetch retries
	Backoff fetch.Backoff

	// Latency tunes the adaptive fetch timeout
	Latency latency.Config

	// TimeUpdateInterval is the timeupdate period while playing (default: 250ms)
	TimeUpdateInterval time.Duration

	// FallbackToWholeTrack loads in enhanced mode when chunked delivery cannot start
	FallbackToWholeTrack bool

	// Clock drives timers and latency measurement (default: real time)
	Clock clock.Clock

	Logger *zap.Logger
}

// Status is a point-in-time view of the player
type Status struct {
	State       State
	Mode        Mode
	Preset      string
	TrackID     string
	SessionID   string
	CurrentTime float64
	Duration    float64
	Volume      int
	Latency     latency.Stats
}

// Player plays chunked tracks from a Source on an output device
type Player struct {
	config    Config
	source    Source
	device    output.Device
	sched     *scheduler.Scheduler
	estimator *latency.Estimator
	clock     clock.Clock
	logger    *zap.Logger
	events    *emitter

	actions chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// Loop-owned
	state      State
	mode       Mode
	preset     string
	volume     int
	session    *session
	active     modePlayer
	switching  *modeSwitch
	tickArmed  bool
	openFormat audio.Format
}

// NewPlayer creates a player and starts its loop
func NewPlayer(config Config, source Source, device output.Device) (*Player, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if device == nil {
		return nil, errors.New("output device is required")
	}

	if config.Mode == "" {
		config.Mode = ModeChunked
	}
	if _, err := ParseMode(string(config.Mode)); err != nil {
		return nil, err
	}
	if config.Volume == 0 {
		config.Volume = 100
	}
	if config.PrefetchAhead == 0 {
		config.PrefetchAhead = 2
	}
	if config.TimeUpdateInterval == 0 {
		config.TimeUpdateInterval = 250 * time.Millisecond
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Latency.Clock == nil {
		config.Latency.Clock = config.Clock
	}

	logger := config.Logger.Named("player")
	ctx, cancel := context.WithCancel(context.Background())

	p := &Player{
		config:    config,
		source:    source,
		device:    device,
		sched:     scheduler.New(device, scheduler.Config{Clock: config.Clock, Logger: config.Logger}),
		estimator: latency.NewEstimator(config.Latency, config.Logger),
		clock:     config.Clock,
		logger:    logger,
		events:    newEmitter(),
		actions:   make(chan func(), 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     Idle,
		mode:      config.Mode,
		preset:    config.Preset,
		volume:    config.Volume,
	}
	p.sched.SetVolume(float64(config.Volume) / 100)
	p.sched.Subscribe(func(e scheduler.Event) {
		p.post(func() { p.schedulerEvent(e) })
	})

	go p.run()
	go p.events.run(ctx)

	return p, nil
}

func (p *Player) run() {
	defer close(p.done)
	for {
		select {
		case f := <-p.actions:
			f()
		case <-p.ctx.Done():
			return
		}
	}
}

// do runs f on the loop and waits for it
func (p *Player) do(f func()) error {
	finished := make(chan struct{})
	select {
	case p.actions <- func() { f(); close(finished) }:
	case <-p.ctx.Done():
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// post queues f on the loop without waiting. It must not be called from the loop.
func (p *Player) post(f func()) {
	select {
	case p.actions <- f:
	case <-p.ctx.Done():
	}
}

// On registers handler for an event and returns its unsubscribe func.
// Handlers run on a dispatcher goroutine and may call back into the Player.
func (p *Player) On(name EventName, handler func(Event)) func() {
	return p.events.on(name, handler)
}

// LoadTrack replaces the current session with trackID in the current mode
func (p *Player) LoadTrack(ctx context.Context, trackID string) error {
	var (
		sess   *session
		mode   Mode
		preset string
	)
	if err := p.do(func() {
		p.teardown()
		p.estimator.Reset()
		sess = newSession(trackID, p.mode, p.preset)
		p.session = sess
		mode, preset = p.mode, p.preset
		p.setState(Loading)
	}); err != nil {
		return err
	}

	p.logger.Info("loading track",
		zap.String("track", trackID),
		zap.String("mode", string(mode)),
		zap.String("preset", preset),
		zap.String("session", sess.ID))

	mp, loadErr := p.loadMode(ctx, trackID, mode, preset)

	var result error
	if err := p.do(func() {
		if p.session != sess {
			if mp != nil {
				mp.cleanup()
			}
			result = ErrSuperseded
			return
		}
		if loadErr != nil {
			p.logger.Error("failed to load track", zap.String("track", trackID), zap.Error(loadErr))
			p.setState(Error)
			p.emitError(loadErr)
			result = loadErr
			return
		}

		if mp.mode() != p.mode {
			p.mode = mp.mode()
			sess.Mode = p.mode
			p.events.emit(Event{Name: EventModeSwitched, Mode: p.mode})
		}
		p.active = mp
		p.setState(Ready)
		if sess.autoplay {
			mp.play()
		}
	}); err != nil {
		if mp != nil {
			mp.cleanup()
		}
		return err
	}
	return result
}

// loadMode builds and loads a mode player, falling back to whole-track
// delivery when configured and chunked delivery cannot start
func (p *Player) loadMode(ctx context.Context, trackID string, mode Mode, preset string) (modePlayer, error) {
	mp := p.newModePlayer(mode, preset)
	err := mp.load(ctx, trackID)
	if err == nil {
		return mp, nil
	}
	mp.cleanup()

	var initErr *MediaSourceInitError
	if mode != ModeChunked || !p.config.FallbackToWholeTrack || !errors.As(err, &initErr) {
		return nil, err
	}

	p.logger.Warn("chunked delivery unavailable, falling back to whole track",
		zap.String("track", trackID), zap.Error(err))

	whole := p.newModePlayer(ModeEnhanced, preset)
	if err := whole.load(ctx, trackID); err != nil {
		whole.cleanup()
		return nil, fmt.Errorf("whole-track fallback failed: %w", err)
	}
	return whole, nil
}

func (p *Player) newModePlayer(mode Mode, preset string) modePlayer {
	if mode == ModeEnhanced {
		return newWholeTrackPlayer(p, preset)
	}
	return newChunkedPlayer(p, preset)
}

// Play starts or resumes playback
func (p *Player) Play() error {
	var result error
	if err := p.do(func() {
		switch {
		case p.session == nil:
			result = ErrNoTrack
		case p.switching != nil:
			p.switching.wasPlaying = true
		case p.state == Loading:
			p.session.autoplay = true
		case p.active == nil:
			result = ErrNoTrack
		default:
			p.active.play()
		}
	}); err != nil {
		return err
	}
	return result
}

// Pause stops output and keeps the position
func (p *Player) Pause() error {
	var result error
	if err := p.do(func() {
		switch {
		case p.session == nil:
			result = ErrNoTrack
		case p.switching != nil:
			p.switching.wasPlaying = false
		case p.state == Loading:
			p.session.autoplay = false
		case p.active == nil:
			result = ErrNoTrack
		case p.state == Playing || p.state == Buffering:
			p.active.pause()
			p.setState(Paused)
		}
	}); err != nil {
		return err
	}
	return result
}

// Seek moves playback to t seconds
func (p *Player) Seek(t float64) error {
	var result error
	if err := p.do(func() {
		switch {
		case p.session == nil:
			result = ErrNoTrack
		case p.switching != nil:
			p.switching.position = t
		case p.active == nil:
			result = ErrNoTrack
		default:
			p.active.seek(t)
			p.emitTimeUpdate()
		}
	}); err != nil {
		return err
	}
	return result
}

// SetMode switches delivery mode and preset, keeping the position and
// resuming playback only if it was playing
func (p *Player) SetMode(ctx context.Context, mode Mode, preset string) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	var (
		sw     *modeSwitch
		sess   *session
		result error
	)
	if err := p.do(func() {
		if mode == p.mode && preset == p.preset {
			return
		}
		if p.switching != nil {
			result = ErrSwitchInProgress
			return
		}
		if p.state == Loading {
			result = ErrLoading
			return
		}
		if p.active == nil || p.session == nil {
			// Nothing loaded: the next LoadTrack uses the new mode
			p.applyMode(mode, preset)
			return
		}

		sw = &modeSwitch{
			from:       p.mode,
			to:         mode,
			old:        p.active,
			prevState:  p.state,
			wasPlaying: p.state == Playing || p.state == Buffering,
			position:   p.active.currentTime(),
		}
		sw.old.pause()
		p.active = nil
		p.switching = sw
		sess = p.session
		p.setState(Switching)
	}); err != nil {
		return err
	}
	if sw == nil {
		return result
	}

	p.logger.Info("switching mode",
		zap.String("from", string(sw.from)),
		zap.String("to", string(sw.to)),
		zap.String("preset", preset),
		zap.Float64("position", sw.position),
		zap.Bool("was_playing", sw.wasPlaying))

	mp := p.newModePlayer(mode, preset)
	loadErr := mp.load(ctx, sess.TrackID)

	if err := p.do(func() {
		if p.session != sess {
			mp.cleanup()
			result = ErrSuperseded
			return
		}
		p.switching = nil

		if loadErr != nil {
			mp.cleanup()
			p.logger.Warn("mode switch failed, staying in previous mode",
				zap.String("mode", string(sw.from)), zap.Error(loadErr))
			p.resume(sw.old, sw)
			result = &ModeSwitchError{From: sw.from, To: sw.to, Cause: loadErr}
			p.emitError(result)
			return
		}

		sw.old.cleanup()
		p.applyMode(mode, preset)
		p.resume(mp, sw)
	}); err != nil {
		mp.cleanup()
		return err
	}
	return result
}

// SetPreset switches the enhancement preset in the current mode
func (p *Player) SetPreset(ctx context.Context, preset string) error {
	var mode Mode
	if err := p.do(func() { mode = p.mode }); err != nil {
		return err
	}
	return p.SetMode(ctx, mode, preset)
}

// applyMode records a new mode/preset and announces what changed
func (p *Player) applyMode(mode Mode, preset string) {
	modeChanged := mode != p.mode
	presetChanged := preset != p.preset
	p.mode, p.preset = mode, preset
	if p.session != nil {
		p.session.Mode, p.session.Preset = mode, preset
	}
	if modeChanged {
		p.events.emit(Event{Name: EventModeSwitched, Mode: mode})
	}
	if presetChanged {
		p.events.emit(Event{Name: EventPresetSwitched, Mode: mode, Preset: preset})
	}
}

// resume installs mp at the captured position in the captured play state
func (p *Player) resume(mp modePlayer, sw *modeSwitch) {
	p.active = mp
	mp.seek(sw.position)
	if sw.wasPlaying {
		mp.play()
		return
	}
	switch sw.prevState {
	case Paused, Idle:
		p.setState(sw.prevState)
	default:
		p.setState(Ready)
	}
	p.emitTimeUpdate()
}

// SetVolume sets the output volume (0-100)
func (p *Player) SetVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("invalid volume: %d (must be 0-100)", volume)
	}
	return p.do(func() {
		p.volume = volume
		p.sched.SetVolume(float64(volume) / 100)
	})
}

// Volume returns the output volume (0-100)
func (p *Player) Volume() int {
	v := 0
	_ = p.do(func() { v = p.volume })
	return v
}

// CurrentTime returns the playback position in seconds
func (p *Player) CurrentTime() float64 {
	var t float64
	_ = p.do(func() { t = p.currentTime() })
	return t
}

// Duration returns the loaded track's duration in seconds
func (p *Player) Duration() float64 {
	var d float64
	_ = p.do(func() {
		if p.active != nil {
			d = p.active.duration()
		}
	})
	return d
}

// State returns the playback state
func (p *Player) State() State {
	s := Idle
	_ = p.do(func() { s = p.state })
	return s
}

// Mode returns the delivery mode
func (p *Player) Mode() Mode {
	var m Mode
	_ = p.do(func() { m = p.mode })
	return m
}

// Preset returns the enhancement preset
func (p *Player) Preset() string {
	var preset string
	_ = p.do(func() { preset = p.preset })
	return preset
}

// Chunks reports per-chunk fetch state for a chunked session, or nil
func (p *Player) Chunks() []fetch.Chunk {
	var f *fetch.Fetcher
	_ = p.do(func() {
		if c, ok := p.active.(*chunkedPlayer); ok {
			f = c.fetcher
		}
	})
	if f == nil {
		return nil
	}
	return f.Chunks()
}

// Status returns a snapshot of the player
func (p *Player) Status() Status {
	st := Status{State: Idle}
	_ = p.do(func() {
		st = Status{
			State:       p.state,
			Mode:        p.mode,
			Preset:      p.preset,
			CurrentTime: p.currentTime(),
			Volume:      p.volume,
		}
		if p.session != nil {
			st.TrackID = p.session.TrackID
			st.SessionID = p.session.ID
		}
		if p.active != nil {
			st.Duration = p.active.duration()
		}
	})
	st.Latency = p.estimator.Stats()
	return st
}

// Cleanup ends the session and stops the player. The player is unusable afterwards.
func (p *Player) Cleanup() error {
	if err := p.do(func() {
		p.teardown()
		p.setState(Idle)
	}); err != nil {
		return err
	}

	p.cancel()
	<-p.done
	<-p.events.done
	p.logger.Debug("player closed")
	return nil
}

// teardown releases the session and any mode player, including one mid-switch
func (p *Player) teardown() {
	if p.active != nil {
		p.active.cleanup()
		p.active = nil
	}
	if p.switching != nil {
		p.switching.old.cleanup()
		p.switching = nil
	}
	p.sched.Stop()
	p.session = nil
}

func (p *Player) currentTime() float64 {
	switch {
	case p.active != nil:
		return p.active.currentTime()
	case p.switching != nil:
		return p.switching.position
	default:
		return 0
	}
}

func (p *Player) setState(s State) {
	if s == p.state {
		return
	}
	old := p.state
	p.state = s
	if p.session != nil {
		p.session.State = s
	}

	p.logger.Debug("state change", zap.Stringer("from", old), zap.Stringer("to", s))
	p.events.emit(Event{Name: EventStateChange, Old: old, New: s})

	if s == Playing {
		p.armTick()
	}
}

func (p *Player) emitError(err error) {
	p.events.emit(Event{Name: EventError, Err: err})
}

func (p *Player) emitTimeUpdate() {
	if p.active == nil {
		return
	}
	t := p.active.currentTime()
	if p.session != nil {
		p.session.PositionSeconds = t
	}
	p.events.emit(Event{Name: EventTimeUpdate, CurrentTime: t, Duration: p.active.duration()})
}

// armTick schedules the next timeupdate while playing
func (p *Player) armTick() {
	if p.tickArmed {
		return
	}
	p.tickArmed = true
	p.clock.AfterFunc(p.config.TimeUpdateInterval, func() {
		p.post(func() {
			p.tickArmed = false
			if p.state == Playing {
				p.emitTimeUpdate()
				p.armTick()
			}
		})
	})
}

// trackEnded is called by the active mode player after the last chunk
func (p *Player) trackEnded() {
	p.emitTimeUpdate()
	p.setState(Idle)
	p.events.emit(Event{Name: EventEnded})
	p.logger.Info("track ended", zap.String("track", p.session.TrackID))
}

func (p *Player) schedulerEvent(e scheduler.Event) {
	if p.active == nil {
		return
	}
	p.active.handle(e)
}

// playBuffer opens the device for buf if needed and hands it to the scheduler
func (p *Player) playBuffer(req scheduler.PlayRequest) error {
	if req.Buffer != nil && req.Buffer.Format != p.openFormat {
		if err := p.device.Open(req.Buffer.Format.SampleRate, req.Buffer.Format.Channels); err != nil {
			return fmt.Errorf("failed to open output: %w", err)
		}
		p.openFormat = req.Buffer.Format
	}
	_, err := p.sched.PlayChunk(req)
	return err
}
