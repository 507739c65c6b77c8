// ABOUTME: Progressive chunked delivery mode
// ABOUTME: Fetches chunks ahead of the scheduler and feeds them on overlap events
package chunkplay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
	"github.com/Resonate-Protocol/chunkplay/pkg/fetch"
	"github.com/Resonate-Protocol/chunkplay/pkg/scheduler"
	"github.com/Resonate-Protocol/chunkplay/pkg/track"
)

type chunkedPlayer struct {
	p      *Player
	preset string
	logger *zap.Logger

	// ctx bounds background fetches and is cancelled by cleanup
	ctx    context.Context
	cancel context.CancelFunc

	// Set by load
	track   track.Track
	fetcher *fetch.Fetcher
	first   *audio.Buffer

	// gen changes whenever outstanding fetches become stale
	gen      uint64
	seq      uint64
	playing  bool
	anchored bool
	position float64
	current  int
	pending  int
}

func newChunkedPlayer(p *Player, preset string) *chunkedPlayer {
	ctx, cancel := context.WithCancel(p.ctx)
	return &chunkedPlayer{
		p:       p,
		preset:  preset,
		logger:  p.logger.With(zap.String("mode", string(ModeChunked))),
		ctx:     ctx,
		cancel:  cancel,
		current: -1,
		pending: -1,
	}
}

func (c *chunkedPlayer) mode() Mode {
	return ModeChunked
}

func (c *chunkedPlayer) load(ctx context.Context, trackID string) error {
	meta, err := c.p.source.FetchMetadata(ctx, trackID, string(ModeChunked), c.preset)
	if err != nil {
		return fmt.Errorf("failed to fetch metadata: %w", err)
	}

	tr, err := track.New(trackID, meta)
	if err != nil {
		return &MediaSourceInitError{TrackID: trackID, Cause: err}
	}
	if meta.TotalChunks != 0 && meta.TotalChunks != tr.TotalChunks {
		c.logger.Warn("server chunk count disagrees with track geometry",
			zap.Int("server", meta.TotalChunks),
			zap.Int("derived", tr.TotalChunks))
	}

	f, err := fetch.New(fetch.Config{
		TrackID:             trackID,
		Mode:                string(ModeChunked),
		Preset:              c.preset,
		Format:              tr.Format,
		Backoff:             c.p.config.Backoff,
		PrefetchConcurrency: c.p.config.PrefetchConcurrency,
		Clock:               c.p.clock,
	}, c.p.source, c.p.estimator, c.p.config.Logger)
	if err != nil {
		return &MediaSourceInitError{TrackID: trackID, Cause: err}
	}
	c.track = tr
	c.fetcher = f

	first, err := f.Fetch(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to fetch first chunk: %w", err)
	}
	c.first = first
	c.prefetch(0)

	c.logger.Info("track ready",
		zap.String("track", trackID),
		zap.Float64("duration", tr.DurationSeconds),
		zap.Int("chunks", tr.TotalChunks),
		zap.Float64("overlap", tr.Overlap()),
		zap.String("codec", tr.Format.Codec))
	return nil
}

// prefetch warms the chunks following index
func (c *chunkedPlayer) prefetch(index int) {
	var indices []int
	for i := index + 1; i <= index+c.p.config.PrefetchAhead && i < c.track.TotalChunks; i++ {
		switch c.fetcher.Chunk(i).State {
		case fetch.Loaded, fetch.Loading:
			continue
		}
		indices = append(indices, i)
	}
	if len(indices) == 0 {
		return
	}

	f, ctx := c.fetcher, c.ctx
	go f.Prefetch(ctx, indices)
}

func (c *chunkedPlayer) play() {
	if c.playing {
		if c.pending >= 0 || c.p.sched.Playing() {
			return
		}
		// Stalled after a failed fetch: retry from where the audio stopped
		c.position = c.currentTime()
	}
	if c.position >= c.track.DurationSeconds {
		c.position = 0
	}
	c.playing = true
	c.startAt(c.position)
}

// startAt begins a non-seamless transition to track time t
func (c *chunkedPlayer) startAt(t float64) {
	c.gen++
	c.anchored = false
	c.pending = -1

	index, offset := c.track.Locate(t)
	if index == 0 && c.first != nil {
		buf := c.first
		c.first = nil
		c.playChunk(index, buf, offset, false)
		return
	}

	c.p.setState(Buffering)
	c.request(index, offset, false)
}

func (c *chunkedPlayer) request(index int, offset float64, continuation bool) {
	c.pending = index
	gen := c.gen
	f, ctx := c.fetcher, c.ctx

	go func() {
		buf, err := f.Fetch(ctx, index)
		c.p.post(func() { c.fetched(gen, index, offset, continuation, buf, err) })
	}()
}

func (c *chunkedPlayer) fetched(gen uint64, index int, offset float64, continuation bool, buf *audio.Buffer, err error) {
	if gen != c.gen || !c.playing || index != c.pending {
		return
	}
	c.pending = -1

	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Error("chunk unavailable, playback stalled", zap.Int("chunk", index), zap.Error(err))
		c.p.emitError(err)
		if !c.p.sched.Playing() {
			c.p.setState(Buffering)
		}
		return
	}

	c.playChunk(index, buf, offset, continuation)
}

func (c *chunkedPlayer) playChunk(index int, buf *audio.Buffer, offset float64, continuation bool) {
	// A successor that arrives after its predecessor finished is not seamless
	seamless := continuation && offset == 0 && c.p.sched.Playing()

	err := c.p.playBuffer(scheduler.PlayRequest{
		Index:          index,
		Buffer:         buf,
		Offset:         offset,
		IsContinuation: seamless,
		Track:          c.track,
	})
	if err != nil {
		c.logger.Error("failed to play chunk", zap.Int("chunk", index), zap.Error(err))
		c.p.emitError(err)
		if !c.p.sched.Playing() {
			c.p.setState(Buffering)
		}
		return
	}

	c.seq = c.p.sched.Seq()
	c.current = index
	c.anchored = true
	if c.p.session != nil {
		c.p.session.CurrentChunkIndex = index
	}
	c.p.setState(Playing)
	c.prefetch(index)
}

func (c *chunkedPlayer) handle(e scheduler.Event) {
	if !c.playing || e.Seq != c.seq {
		return
	}

	switch e.Type {
	case scheduler.ScheduleNextChunk:
		if e.Index < c.track.TotalChunks && c.pending < 0 {
			c.request(e.Index, 0, true)
		}

	case scheduler.PlayNextChunk:
		if e.Index < c.track.TotalChunks && c.pending < 0 {
			c.request(e.Index, 0, false)
		}

	case scheduler.ChunkEnded:
		if !c.track.IsLast(e.Index) {
			c.logger.Debug("chunk ended before its successor started", zap.Int("chunk", e.Index))
			c.p.setState(Buffering)
		}

	case scheduler.TrackEnded:
		c.gen++
		c.playing = false
		c.anchored = false
		c.position = c.track.DurationSeconds
		c.p.trackEnded()
	}
}

func (c *chunkedPlayer) pause() {
	if !c.playing {
		return
	}
	c.position = c.currentTime()
	c.playing = false
	c.anchored = false
	c.pending = -1
	c.gen++
	c.p.sched.Stop()
}

func (c *chunkedPlayer) seek(t float64) {
	c.position = clampTime(t, c.track.DurationSeconds)
	if !c.playing {
		return
	}
	c.p.sched.Stop()
	c.startAt(c.position)
}

func (c *chunkedPlayer) currentTime() float64 {
	if c.playing && c.anchored {
		if t, ok := c.p.sched.CurrentTime(); ok {
			return t
		}
	}
	return c.position
}

func (c *chunkedPlayer) duration() float64 {
	return c.track.DurationSeconds
}

func (c *chunkedPlayer) cleanup() {
	c.gen++
	if c.playing {
		c.p.sched.Stop()
	}
	c.playing = false
	c.cancel()
	if c.fetcher != nil {
		c.fetcher.Close()
	}
	c.first = nil
}

func clampTime(t, duration float64) float64 {
	if t < 0 {
		return 0
	}
	if t > duration {
		return duration
	}
	return t
}
