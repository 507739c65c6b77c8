// ABOUTME: Chunk fetcher with adaptive timeouts, retries and prefetch
// ABOUTME: Owns the per-session decoded chunk cache until buffers are handed off
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
	"github.com/Resonate-Protocol/chunkplay/pkg/audio/decode"
	"github.com/Resonate-Protocol/chunkplay/pkg/clock"
	"github.com/Resonate-Protocol/chunkplay/pkg/latency"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Request identifies one chunk on the transport
type Request struct {
	TrackID string
	Index   int
	Mode    string
	Preset  string
}

// Payload is an encoded chunk and the cache tier that served it
type Payload struct {
	Data []byte
	Tier string
}

// Transport retrieves encoded chunks
type Transport interface {
	FetchChunk(ctx context.Context, req Request) (*Payload, error)
}

// State is a chunk's load state
type State int

const (
	Unloaded State = iota
	Loading
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Chunk is the fetcher's view of one chunk
type Chunk struct {
	Index      int
	State      State
	Buffer     *audio.Buffer
	SizeBytes  int
	SourceTier string
	Err        error
}

// Config binds a fetcher to one session's track and delivery mode
type Config struct {
	TrackID string
	Mode    string
	Preset  string
	Format  audio.Format
	Backoff Backoff

	// PrefetchConcurrency bounds parallel prefetches (default: 3)
	PrefetchConcurrency int

	// Clock measures latency (default: real time)
	Clock clock.Clock
}

type entry struct {
	chunk Chunk
	load  *inflight
}

// inflight is one load, shared by every request for the chunk that arrives while it runs
type inflight struct {
	done    chan struct{}
	waiters int
	buf     *audio.Buffer
	err     error
}

// Fetcher fetches and decodes chunks for one session
type Fetcher struct {
	config    Config
	transport Transport
	estimator *latency.Estimator
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error

	mu     sync.Mutex
	chunks map[int]*entry
	closed bool
}

// New creates a fetcher. It fails when the track format has no decoder.
func New(config Config, transport Transport, estimator *latency.Estimator, logger *zap.Logger) (*Fetcher, error) {
	dec, err := decode.New(config.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	dec.Close()

	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if estimator == nil {
		lat := latency.DefaultConfig()
		lat.Clock = config.Clock
		estimator = latency.NewEstimator(lat, logger)
	}
	if config.PrefetchConcurrency <= 0 {
		config.PrefetchConcurrency = 3
	}
	config.Backoff = withBackoffDefaults(config.Backoff)

	return &Fetcher{
		config:    config,
		transport: transport,
		estimator: estimator,
		logger: logger.Named("fetch").With(
			zap.String("track", config.TrackID),
			zap.String("mode", config.Mode)),
		sleep:  sleepContext,
		chunks: make(map[int]*entry),
	}, nil
}

// Fetch returns chunk index, handing the buffer off to the caller
func (f *Fetcher) Fetch(ctx context.Context, index int) (*audio.Buffer, error) {
	buf, err := f.obtain(ctx, index, true)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Prefetch warms the cache for indices concurrently. Failed chunks are
// left out of the result; the buffers stay owned by the fetcher unless a
// concurrent Fetch of the same chunk already took them.
func (f *Fetcher) Prefetch(ctx context.Context, indices []int) map[int]*audio.Buffer {
	var g errgroup.Group
	g.SetLimit(f.config.PrefetchConcurrency)

	var mu sync.Mutex
	result := make(map[int]*audio.Buffer, len(indices))

	for _, index := range indices {
		index := index
		g.Go(func() error {
			buf, err := f.obtain(ctx, index, false)
			if err != nil {
				f.logger.Debug("prefetch skipped chunk", zap.Int("chunk", index), zap.Error(err))
				return nil
			}
			mu.Lock()
			result[index] = buf
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result
}

// obtain returns a cached, in-flight or freshly loaded buffer. With
// handoff the cache drops its reference once the buffer is returned.
func (f *Fetcher) obtain(ctx context.Context, index int, handoff bool) (*audio.Buffer, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return nil, ErrClosed
		}

		e, ok := f.chunks[index]
		if !ok {
			e = &entry{chunk: Chunk{Index: index}}
			f.chunks[index] = e
		}

		switch e.chunk.State {
		case Loaded:
			buf := e.chunk.Buffer
			if handoff {
				e.chunk.Buffer = nil
				e.chunk.State = Unloaded
			}
			f.mu.Unlock()
			return buf, nil

		case Loading:
			l := e.load
			l.waiters++
			f.mu.Unlock()
			select {
			case <-l.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			switch {
			case l.err == nil:
				if handoff {
					f.mu.Lock()
					if e.chunk.State == Loaded && e.chunk.Buffer == l.buf {
						e.chunk.Buffer = nil
						e.chunk.State = Unloaded
					}
					f.mu.Unlock()
				}
				return l.buf, nil
			case l.err == context.Canceled || l.err == context.DeadlineExceeded:
				// The loading request gave up; start over under this context
				continue
			default:
				return nil, l.err
			}
		}

		l := &inflight{done: make(chan struct{})}
		e.load = l
		e.chunk.State = Loading
		e.chunk.Err = nil
		f.mu.Unlock()

		buf, payload, err := f.load(ctx, index)

		f.mu.Lock()
		if f.closed {
			l.err = ErrClosed
			close(l.done)
			f.mu.Unlock()
			return nil, ErrClosed
		}
		if err != nil {
			e.chunk.State = Failed
			e.chunk.Err = err
		} else {
			e.chunk.SizeBytes = len(payload.Data)
			e.chunk.SourceTier = payload.Tier
			if handoff {
				e.chunk.State = Unloaded
			} else {
				e.chunk.State = Loaded
				e.chunk.Buffer = buf
			}
		}
		l.buf, l.err = buf, err
		close(l.done)
		f.mu.Unlock()

		return buf, err
	}
}

// load runs the retry loop for one chunk
func (f *Fetcher) load(ctx context.Context, index int) (*audio.Buffer, *Payload, error) {
	b := f.config.Backoff
	var lastErr error

	for attempt := 1; attempt <= b.MaxRetries+1; attempt++ {
		if attempt > 1 {
			delay := b.Delay(attempt - 2)
			f.logger.Warn("retrying chunk fetch",
				zap.Int("chunk", index),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))
			if err := f.sleep(ctx, delay); err != nil {
				return nil, nil, err
			}
		}

		payload, err := f.attempt(ctx, index, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		buf, err := f.decode(index, payload)
		if err != nil {
			return nil, nil, err
		}

		f.logger.Debug("chunk fetched",
			zap.Int("chunk", index),
			zap.Int("attempt", attempt),
			zap.Int("bytes", len(payload.Data)),
			zap.String("tier", payload.Tier),
			zap.Float64("seconds", buf.Duration()))
		return buf, payload, nil
	}

	return nil, nil, &ChunkFetchError{ChunkIndex: index, Attempts: b.MaxRetries + 1, Cause: lastErr}
}

// attempt performs one transport call bounded by the adaptive timeout
func (f *Fetcher) attempt(ctx context.Context, index, attempt int) (*Payload, error) {
	timeout := f.estimator.CurrentTimeout()
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := f.config.Clock.Now()
	payload, err := f.transport.FetchChunk(actx, Request{
		TrackID: f.config.TrackID,
		Index:   index,
		Mode:    f.config.Mode,
		Preset:  f.config.Preset,
	})
	elapsed := f.config.Clock.Now().Sub(start)

	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		f.estimator.RecordTimeout(index, elapsed)
		return nil, &FetchTimeoutError{ChunkIndex: index, Attempt: attempt, Timeout: timeout}
	}
	f.estimator.RecordSample(index, elapsed)

	if err != nil {
		return nil, &FetchFailureError{ChunkIndex: index, Attempt: attempt, Cause: err}
	}
	if payload == nil {
		return nil, &FetchFailureError{ChunkIndex: index, Attempt: attempt, Cause: errors.New("transport returned no payload")}
	}
	return payload, nil
}

func (f *Fetcher) decode(index int, payload *Payload) (*audio.Buffer, error) {
	dec, err := decode.New(f.config.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()

	buf, err := dec.Decode(payload.Data)
	if err != nil {
		return nil, &audio.InvalidBufferError{ChunkIndex: index, Reason: err.Error()}
	}
	if err := audio.Validate(index, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Chunk returns a snapshot of one chunk's state
func (f *Fetcher) Chunk(index int) Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.chunks[index]; ok {
		return e.chunk
	}
	return Chunk{Index: index}
}

// Chunks returns snapshots of every chunk the session has touched
func (f *Fetcher) Chunks() []Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Chunk, 0, len(f.chunks))
	for _, e := range f.chunks {
		out = append(out, e.chunk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Close releases cached buffers; later fetches fail with ErrClosed and
// in-flight results are discarded
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for _, e := range f.chunks {
		e.chunk.Buffer = nil
		if e.chunk.State == Loaded {
			e.chunk.State = Unloaded
		}
	}
	f.logger.Debug("fetcher closed", zap.Int("chunks", len(f.chunks)))
}
