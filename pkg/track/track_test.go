package track

import (
	"math"
	"testing"
)

func TestChunkCount(t *testing.T) {
	tests := []struct {
		duration, interval float64
		expected           int
	}{
		{95, 8, 12},
		{96, 8, 12},
		{96.01, 8, 13},
		{1, 10, 1},
		{0, 8, 0},
		{10, 0, 0},
	}

	for _, tt := range tests {
		if got := ChunkCount(tt.duration, tt.interval); got != tt.expected {
			t.Errorf("ChunkCount(%g, %g) = %d, expected %d", tt.duration, tt.interval, got, tt.expected)
		}
	}
}

func TestNew(t *testing.T) {
	tr, err := New("abc", Metadata{Duration: 95, TotalChunks: 99, ChunkDuration: 10, ChunkInterval: 8, Format: "flac"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// TotalChunks is always derived, never trusted from the wire
	if tr.TotalChunks != 12 {
		t.Errorf("expected 12 chunks, got %d", tr.TotalChunks)
	}
	if tr.Overlap() != 2 {
		t.Errorf("expected overlap 2s, got %g", tr.Overlap())
	}
	if tr.Format.Codec != "flac" {
		t.Errorf("expected flac, got %s", tr.Format.Codec)
	}
}

func TestNewRejectsBadGeometry(t *testing.T) {
	tests := []struct {
		name string
		meta Metadata
	}{
		{"no duration", Metadata{ChunkDuration: 10, ChunkInterval: 8}},
		{"no interval", Metadata{Duration: 10, ChunkDuration: 10}},
		{"interval exceeds duration", Metadata{Duration: 10, ChunkDuration: 5, ChunkInterval: 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New("x", tt.meta); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewDefaultsChunkDuration(t *testing.T) {
	tr, err := New("x", Metadata{Duration: 30, ChunkInterval: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if tr.ChunkDurationSeconds != 10 || tr.Overlap() != 0 {
		t.Errorf("expected chunk duration to default to interval, got %g", tr.ChunkDurationSeconds)
	}
}

func TestLocate(t *testing.T) {
	tr, _ := New("x", Metadata{Duration: 95, ChunkDuration: 10, ChunkInterval: 8})

	for _, seek := range []float64{0, 0.5, 7.999, 8, 33.25, 64, 87.9, 88, 94.9} {
		index, offset := tr.Locate(seek)
		if index != int(math.Floor(seek/8)) {
			t.Errorf("Locate(%g): expected chunk %d, got %d", seek, int(math.Floor(seek/8)), index)
		}
		if math.Abs(offset-(seek-float64(index)*8)) > 1e-9 {
			t.Errorf("Locate(%g): expected offset %g, got %g", seek, seek-float64(index)*8, offset)
		}
	}
}

func TestLocateClamps(t *testing.T) {
	tr, _ := New("x", Metadata{Duration: 96, ChunkDuration: 10, ChunkInterval: 8})

	index, offset := tr.Locate(-5)
	if index != 0 || offset != 0 {
		t.Errorf("expected (0, 0) for negative time, got (%d, %g)", index, offset)
	}

	// 96 / 8 = 12 but the last chunk is 11
	index, offset = tr.Locate(96)
	if index != 11 || offset != 8 {
		t.Errorf("expected (11, 8) at the end, got (%d, %g)", index, offset)
	}
}

func TestWhole(t *testing.T) {
	tr := Whole("x", 200, Metadata{Format: "flac"}.AudioFormat())
	if tr.TotalChunks != 1 || !tr.IsLast(0) {
		t.Error("expected a single last chunk")
	}
	if tr.Overlap() != 0 {
		t.Errorf("expected no overlap, got %g", tr.Overlap())
	}
	index, offset := tr.Locate(150)
	if index != 0 || offset != 150 {
		t.Errorf("expected (0, 150), got (%d, %g)", index, offset)
	}
}
