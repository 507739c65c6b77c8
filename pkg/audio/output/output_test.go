// ABOUTME: Audio output tests
// ABOUTME: Tests the virtual device lifecycle and PCM layout helpers
package output

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
	"github.com/Resonate-Protocol/chunkplay/pkg/clock"
)

func TestImplementsDevice(t *testing.T) {
	var _ Device = (*Oto)(nil)
	var _ Device = (*Virtual)(nil)
}

func testBuffer(seconds int) *audio.Buffer {
	return &audio.Buffer{
		Samples: make([]int32, 100*2*seconds),
		Format:  audio.Format{SampleRate: 100, Channels: 2, BitDepth: 16},
	}
}

func TestVirtualSourceEndsOnClock(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	dev := NewVirtual(c)

	src, err := dev.NewSource(testBuffer(10))
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}

	ended := 0
	src.OnEnded(func() { ended++ })

	if err := src.Start(dev.Now(), 0, 10*time.Second); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Start(dev.Now(), 0, time.Second); !errors.Is(err, ErrSourceStarted) {
		t.Errorf("expected ErrSourceStarted, got %v", err)
	}

	c.Advance(9 * time.Second)
	if ended != 0 || dev.Active() != 1 {
		t.Fatalf("source ended early (ended=%d active=%d)", ended, dev.Active())
	}

	c.Advance(time.Second)
	if ended != 1 {
		t.Errorf("expected 1 ended callback, got %d", ended)
	}
	if dev.Active() != 0 {
		t.Errorf("expected no active sources, got %d", dev.Active())
	}

	if err := src.Stop(); !errors.Is(err, ErrSourceStopped) {
		t.Errorf("expected ErrSourceStopped after end, got %v", err)
	}
}

func TestVirtualSourceStop(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	dev := NewVirtual(c)

	src, err := dev.NewSource(testBuffer(1))
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}

	ended := make(chan struct{}, 1)
	src.OnEnded(func() { ended <- struct{}{} })
	if err := src.Start(dev.Now(), 0, time.Second); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("ended handler not called after Stop")
	}

	if c.Pending() != 0 {
		t.Errorf("expected end timer to be cancelled, %d pending", c.Pending())
	}
	if err := src.Stop(); !errors.Is(err, ErrSourceStopped) {
		t.Errorf("expected ErrSourceStopped, got %v", err)
	}
}

func TestVirtualRecordsStarts(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	dev := NewVirtual(c)
	c.Advance(3 * time.Second)

	src, _ := dev.NewSource(testBuffer(2))
	if err := src.Start(dev.Now(), 500*time.Millisecond, time.Second); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	starts := dev.Starts()
	if len(starts) != 1 {
		t.Fatalf("expected 1 start, got %d", len(starts))
	}
	if starts[0].When != 3*time.Second || starts[0].Offset != 500*time.Millisecond {
		t.Errorf("unexpected start record: %+v", starts[0])
	}
}

func TestVirtualRejectsInvalidBuffer(t *testing.T) {
	dev := NewVirtual(nil)
	var invalid *audio.InvalidBufferError
	if _, err := dev.NewSource(nil); !errors.As(err, &invalid) {
		t.Errorf("expected InvalidBufferError, got %v", err)
	}
}

func TestGainClamp(t *testing.T) {
	dev := NewVirtual(nil)

	tests := []struct {
		in, expected float64
	}{
		{0.5, 0.5},
		{1.5, 1.0},
		{-0.2, 0.0},
	}

	for _, tt := range tests {
		dev.SetGain(tt.in)
		if dev.Gain() != tt.expected {
			t.Errorf("SetGain(%f): expected %f, got %f", tt.in, tt.expected, dev.Gain())
		}
	}
}

func TestToInt16LE(t *testing.T) {
	out := toInt16LE([]int32{1000 << 8, -1000 << 8})
	if len(out) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(out))
	}
	if got := int16(binary.LittleEndian.Uint16(out[0:])); got != 1000 {
		t.Errorf("expected 1000, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(out[2:])); got != -1000 {
		t.Errorf("expected -1000, got %d", got)
	}
}

func TestRemix(t *testing.T) {
	stereo := &audio.Buffer{Samples: []int32{100, 300, -100, -300}, Format: audio.Format{SampleRate: 10, Channels: 2}}
	mono := remix(stereo, 1)
	if mono.Format.Channels != 1 || len(mono.Samples) != 2 {
		t.Fatalf("unexpected mono layout: %+v", mono)
	}
	if mono.Samples[0] != 200 || mono.Samples[1] != -200 {
		t.Errorf("expected averaged samples [200 -200], got %v", mono.Samples)
	}

	back := remix(mono, 2)
	if len(back.Samples) != 4 || back.Samples[0] != 200 || back.Samples[1] != 200 {
		t.Errorf("expected duplicated samples, got %v", back.Samples)
	}

	if remix(stereo, 2) != stereo {
		t.Error("expected same buffer when layouts match")
	}
}
