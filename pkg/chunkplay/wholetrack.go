// ABOUTME: Whole-track enhanced delivery mode
// ABOUTME: Downloads and decodes the full processed track, then plays it as one chunk
package chunkplay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
	"github.com/Resonate-Protocol/chunkplay/pkg/audio/decode"
	"github.com/Resonate-Protocol/chunkplay/pkg/scheduler"
	"github.com/Resonate-Protocol/chunkplay/pkg/track"
)

type wholeTrackPlayer struct {
	p      *Player
	preset string
	logger *zap.Logger

	track track.Track
	buf   *audio.Buffer

	seq      uint64
	playing  bool
	anchored bool
	position float64
}

func newWholeTrackPlayer(p *Player, preset string) *wholeTrackPlayer {
	return &wholeTrackPlayer{
		p:      p,
		preset: preset,
		logger: p.logger.With(zap.String("mode", string(ModeEnhanced))),
	}
}

func (w *wholeTrackPlayer) mode() Mode {
	return ModeEnhanced
}

func (w *wholeTrackPlayer) load(ctx context.Context, trackID string) error {
	meta, err := w.p.source.FetchMetadata(ctx, trackID, string(ModeEnhanced), w.preset)
	if err != nil {
		return fmt.Errorf("failed to fetch metadata: %w", err)
	}

	format := meta.AudioFormat()
	dec, err := decode.New(format)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()

	start := w.p.clock.Now()
	payload, err := w.p.source.FetchTrack(ctx, trackID, w.preset)
	if err != nil {
		return fmt.Errorf("failed to download track: %w", err)
	}
	elapsed := w.p.clock.Now().Sub(start)

	buf, err := dec.Decode(payload.Data)
	if err != nil {
		return &audio.InvalidBufferError{ChunkIndex: 0, Reason: err.Error()}
	}
	if err := audio.Validate(0, buf); err != nil {
		return err
	}

	duration := meta.Duration
	if duration <= 0 || duration > buf.Duration() {
		duration = buf.Duration()
	}
	w.track = track.Whole(trackID, duration, format)
	w.buf = buf

	w.logger.Info("track ready",
		zap.String("track", trackID),
		zap.Float64("duration", duration),
		zap.Int("bytes", len(payload.Data)),
		zap.String("tier", payload.Tier),
		zap.Duration("download", elapsed))
	return nil
}

func (w *wholeTrackPlayer) play() {
	if w.playing {
		return
	}
	if w.position >= w.track.DurationSeconds {
		w.position = 0
	}
	w.playing = true
	w.start()
}

func (w *wholeTrackPlayer) start() {
	err := w.p.playBuffer(scheduler.PlayRequest{
		Index:  0,
		Buffer: w.buf,
		Offset: w.position,
		Track:  w.track,
	})
	if err != nil {
		w.logger.Error("failed to play track", zap.Error(err))
		w.playing = false
		w.p.emitError(err)
		w.p.setState(Error)
		return
	}
	w.seq = w.p.sched.Seq()
	w.anchored = true
	w.p.setState(Playing)
}

func (w *wholeTrackPlayer) handle(e scheduler.Event) {
	if !w.playing || e.Seq != w.seq || e.Type != scheduler.TrackEnded {
		return
	}
	w.playing = false
	w.anchored = false
	w.position = w.track.DurationSeconds
	w.p.trackEnded()
}

func (w *wholeTrackPlayer) pause() {
	if !w.playing {
		return
	}
	w.position = w.currentTime()
	w.playing = false
	w.anchored = false
	w.p.sched.Stop()
}

func (w *wholeTrackPlayer) seek(t float64) {
	w.position = clampTime(t, w.track.DurationSeconds)
	if w.playing {
		w.start()
	}
}

func (w *wholeTrackPlayer) currentTime() float64 {
	if w.playing && w.anchored {
		if t, ok := w.p.sched.CurrentTime(); ok {
			return t
		}
	}
	return w.position
}

func (w *wholeTrackPlayer) duration() float64 {
	return w.track.DurationSeconds
}

func (w *wholeTrackPlayer) cleanup() {
	if w.playing {
		w.p.sched.Stop()
	}
	w.playing = false
	w.buf = nil
}
