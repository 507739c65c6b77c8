package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
	"github.com/Resonate-Protocol/chunkplay/pkg/audio/output"
	"github.com/Resonate-Protocol/chunkplay/pkg/clock"
	"github.com/Resonate-Protocol/chunkplay/pkg/track"
	"go.uber.org/zap/zaptest"
)

const testRate = 100

var testFormat = audio.Format{Codec: "pcm", SampleRate: testRate, Channels: 1, BitDepth: 16}

func testBuffer(seconds float64) *audio.Buffer {
	return &audio.Buffer{
		Samples: make([]int32, int(seconds*testRate)),
		Format:  testFormat,
	}
}

func testTrack(t *testing.T, duration, chunkDuration, interval float64) track.Track {
	t.Helper()
	tr, err := track.New("t1", track.Metadata{
		Duration:      duration,
		ChunkDuration: chunkDuration,
		ChunkInterval: interval,
		Format:        "pcm",
	})
	if err != nil {
		t.Fatalf("track.New failed: %v", err)
	}
	return tr
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) take() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type harness struct {
	clock  *clock.Manual
	device *output.Virtual
	sched  *Scheduler
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewManual(time.Unix(0, 0))
	device := output.NewVirtual(clk)
	sched := New(device, Config{Clock: clk, Logger: zaptest.NewLogger(t)})
	rec := &recorder{}
	sched.Subscribe(rec.record)
	return &harness{clock: clk, device: device, sched: sched, events: rec}
}

func expectEvents(t *testing.T, got []Event, want ...Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i].Type != want[i].Type || got[i].Index != want[i].Index {
			t.Errorf("event %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestScheduleNextAtOverlapStart(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	if tr.TotalChunks != 12 || tr.Overlap() != 2 {
		t.Fatalf("expected 12 chunks with 2s overlap, got %d and %g", tr.TotalChunks, tr.Overlap())
	}

	if _, err := h.sched.PlayChunk(PlayRequest{Index: 3, Buffer: testBuffer(10), Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}

	h.clock.Advance(7900 * time.Millisecond)
	expectEvents(t, h.events.take())

	h.clock.Advance(100 * time.Millisecond)
	expectEvents(t, h.events.take(), Event{Type: ScheduleNextChunk, Index: 4})

	now, ok := h.sched.CurrentTime()
	if !ok || now != 32 {
		t.Errorf("expected current time 32s, got %g (%v)", now, ok)
	}
}

func TestContinuationKeepsTimingReference(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	if _, err := h.sched.PlayChunk(PlayRequest{Index: 0, Buffer: testBuffer(10), Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}
	initial, _ := h.sched.TimingReference()

	for i := 1; i <= 4; i++ {
		h.clock.Advance(8 * time.Second)
		expectEvents(t, h.events.take(), Event{Type: ScheduleNextChunk, Index: i})

		if _, err := h.sched.PlayChunk(PlayRequest{Index: i, Buffer: testBuffer(10), IsContinuation: true, Track: tr}); err != nil {
			t.Fatalf("PlayChunk(%d) failed: %v", i, err)
		}
		ref, _ := h.sched.TimingReference()
		if ref != initial {
			t.Fatalf("chunk %d: timing reference moved from %+v to %+v", i, initial, ref)
		}
	}

	now, _ := h.sched.CurrentTime()
	if now != 32 {
		t.Errorf("expected current time 32s, got %g", now)
	}
}

func TestSeekReanchors(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	h.clock.Advance(5 * time.Second)
	if _, err := h.sched.PlayChunk(PlayRequest{Index: 2, Buffer: testBuffer(10), Offset: 3, Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}

	ref, ok := h.sched.TimingReference()
	if !ok || ref.ClockOrigin != 5*time.Second || ref.TrackTimeOrigin != 19 {
		t.Errorf("expected reference {5s 19}, got %+v", ref)
	}

	starts := h.device.Starts()
	if starts[0].Offset != 3*time.Second || starts[0].Duration != 7*time.Second {
		t.Errorf("expected offset 3s duration 7s, got %v %v", starts[0].Offset, starts[0].Duration)
	}

	// Seeks arm no overlap timer; the next chunk comes from the end fallback
	h.clock.Advance(7 * time.Second)
	expectEvents(t, h.events.take(),
		Event{Type: ChunkEnded, Index: 2},
		Event{Type: PlayNextChunk, Index: 3})
}

func TestContinuationWithOffsetReanchors(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	if _, err := h.sched.PlayChunk(PlayRequest{Index: 0, Buffer: testBuffer(10), Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}
	h.clock.Advance(2 * time.Second)

	if _, err := h.sched.PlayChunk(PlayRequest{Index: 1, Buffer: testBuffer(10), Offset: 1, IsContinuation: true, Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}
	ref, _ := h.sched.TimingReference()
	if ref.ClockOrigin != 2*time.Second || ref.TrackTimeOrigin != 9 {
		t.Errorf("expected reference {2s 9}, got %+v", ref)
	}
}

func TestStopCancelsPendingOverlapTimer(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	done, err := h.sched.PlayChunk(PlayRequest{Index: 0, Buffer: testBuffer(10), Track: tr})
	if err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}

	h.clock.Advance(5 * time.Second)
	h.sched.Stop()

	select {
	case <-done:
	default:
		t.Error("expected completion channel to close on Stop")
	}

	h.clock.Advance(20 * time.Second)
	expectEvents(t, h.events.take())

	if h.clock.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", h.clock.Pending())
	}
	if h.device.Active() != 0 {
		t.Errorf("expected no active sources, got %d", h.device.Active())
	}

	now, _ := h.sched.CurrentTime()
	if now != 5 {
		t.Errorf("expected position frozen at 5s, got %g", now)
	}
}

func TestSupersededChunkIsSilent(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	first, err := h.sched.PlayChunk(PlayRequest{Index: 0, Buffer: testBuffer(10), Track: tr})
	if err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}
	h.clock.Advance(3 * time.Second)

	if _, err := h.sched.PlayChunk(PlayRequest{Index: 5, Buffer: testBuffer(10), Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}
	<-first

	// Chunk 0's overlap timer would have fired at 8s
	h.clock.Advance(6 * time.Second)
	expectEvents(t, h.events.take())

	h.clock.Advance(2 * time.Second)
	expectEvents(t, h.events.take(), Event{Type: ScheduleNextChunk, Index: 6})
}

func TestEndFallbackWithoutOverlapWindow(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 20, 4, 2)

	// 1.5s of audio is shorter than the 2s overlap, so no timer is armed
	if _, err := h.sched.PlayChunk(PlayRequest{Index: 0, Buffer: testBuffer(1.5), Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}
	if h.clock.Pending() != 1 {
		t.Fatalf("expected only the source end timer, got %d", h.clock.Pending())
	}

	h.clock.Advance(1500 * time.Millisecond)
	expectEvents(t, h.events.take(),
		Event{Type: ChunkEnded, Index: 0},
		Event{Type: PlayNextChunk, Index: 1})
}

func TestNoFallbackAfterScheduledNext(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	if _, err := h.sched.PlayChunk(PlayRequest{Index: 0, Buffer: testBuffer(10), Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}

	h.clock.Advance(10 * time.Second)
	expectEvents(t, h.events.take(),
		Event{Type: ScheduleNextChunk, Index: 1},
		Event{Type: ChunkEnded, Index: 0})

	// Position holds at the chunk end while the next chunk is missing
	h.clock.Advance(5 * time.Second)
	now, _ := h.sched.CurrentTime()
	if now != 10 {
		t.Errorf("expected position held at 10s, got %g", now)
	}
}

func TestLastChunkClampedAndEndsTrack(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	if _, err := h.sched.PlayChunk(PlayRequest{Index: 11, Buffer: testBuffer(10), Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}

	starts := h.device.Starts()
	if starts[0].Duration != 7*time.Second {
		t.Errorf("expected last chunk clamped to 7s, got %v", starts[0].Duration)
	}
	if h.clock.Pending() != 1 {
		t.Errorf("expected no overlap timer on the last chunk, got %d timers", h.clock.Pending())
	}

	h.clock.Advance(7 * time.Second)
	expectEvents(t, h.events.take(),
		Event{Type: ChunkEnded, Index: 11},
		Event{Type: TrackEnded, Index: 11})
}

func TestPlayDuration(t *testing.T) {
	tr := track.Track{
		DurationSeconds:      95,
		TotalChunks:          12,
		ChunkDurationSeconds: 10,
		ChunkIntervalSeconds: 8,
	}

	tests := []struct {
		name   string
		index  int
		buffer float64
		offset float64
		want   float64
	}{
		{"full chunk", 0, 10, 0, 10},
		{"short buffer", 0, 6, 0, 6},
		{"seek plays remainder", 4, 10, 2.5, 7.5},
		{"last chunk clamp", 11, 10, 0, 7},
		{"seek into last chunk", 11, 10, 5, 2},
		{"seek past buffer", 3, 10, 12, minPlay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlayDuration(PlayRequest{Index: tt.index, Buffer: testBuffer(tt.buffer), Offset: tt.offset, Track: tr})
			if got != tt.want {
				t.Errorf("expected %g, got %g", tt.want, got)
			}
		})
	}
}

func TestPlayChunkRejectsInvalidBuffer(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	for _, buf := range []*audio.Buffer{nil, {Format: testFormat}} {
		_, err := h.sched.PlayChunk(PlayRequest{Index: 2, Buffer: buf, Track: tr})
		var ibe *audio.InvalidBufferError
		if !errors.As(err, &ibe) {
			t.Fatalf("expected InvalidBufferError, got %v", err)
		}
		if ibe.ChunkIndex != 2 {
			t.Errorf("expected chunk 2, got %d", ibe.ChunkIndex)
		}
	}
	if len(h.device.Starts()) != 0 {
		t.Error("expected nothing started")
	}
}

func TestNaturalEndClosesCompletion(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	done, err := h.sched.PlayChunk(PlayRequest{Index: 11, Buffer: testBuffer(10), Track: tr})
	if err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}
	h.clock.Advance(7 * time.Second)

	select {
	case <-done:
	default:
		t.Error("expected completion channel closed after natural end")
	}
	if h.sched.Playing() {
		t.Error("expected scheduler idle")
	}
}

func TestEventsCarrySeq(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	if _, err := h.sched.PlayChunk(PlayRequest{Index: 0, Buffer: testBuffer(10), Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}
	seq := h.sched.Seq()

	h.clock.Advance(8 * time.Second)
	events := h.events.take()
	if len(events) != 1 || events[0].Seq != seq {
		t.Fatalf("expected one event with seq %d, got %v", seq, events)
	}

	h.sched.Stop()
	if h.sched.Seq() == seq {
		t.Error("expected Stop to advance seq")
	}
}

func TestSetVolume(t *testing.T) {
	h := newHarness(t)
	h.sched.SetVolume(0.5)
	if h.sched.Volume() != 0.5 || h.device.Gain() != 0.5 {
		t.Errorf("expected gain 0.5, got %g", h.device.Gain())
	}
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t)
	tr := testTrack(t, 95, 10, 8)

	extra := &recorder{}
	unsubscribe := h.sched.Subscribe(extra.record)
	unsubscribe()

	if _, err := h.sched.PlayChunk(PlayRequest{Index: 0, Buffer: testBuffer(10), Track: tr}); err != nil {
		t.Fatalf("PlayChunk failed: %v", err)
	}
	h.clock.Advance(8 * time.Second)

	if len(extra.take()) != 0 {
		t.Error("expected unsubscribed handler to receive nothing")
	}
	if len(h.events.take()) != 1 {
		t.Error("expected subscribed handler to receive the event")
	}
}
