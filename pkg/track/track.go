// ABOUTME: Track metadata and chunk geometry
// ABOUTME: Maps track time to chunk index/offset and validates chunk layout
package track

import (
	"fmt"
	"math"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
)

// Metadata is the wire form returned by the metadata transport
type Metadata struct {
	Duration      float64 `json:"duration"`
	TotalChunks   int     `json:"total_chunks"`
	ChunkDuration float64 `json:"chunk_duration"`
	ChunkInterval float64 `json:"chunk_interval"`
	Format        string  `json:"format"`
	SampleRate    int     `json:"sample_rate,omitempty"`
	Channels      int     `json:"channels,omitempty"`
	BitDepth      int     `json:"bit_depth,omitempty"`
}

// Track is an immutable description of a chunked track
type Track struct {
	ID                   string
	DurationSeconds      float64
	TotalChunks          int
	ChunkDurationSeconds float64
	ChunkIntervalSeconds float64
	Format               audio.Format
}

// New builds a Track, deriving TotalChunks from duration and interval
func New(id string, meta Metadata) (Track, error) {
	if meta.Duration <= 0 {
		return Track{}, fmt.Errorf("track %s: duration must be positive, got %g", id, meta.Duration)
	}
	if meta.ChunkInterval <= 0 {
		return Track{}, fmt.Errorf("track %s: chunk interval must be positive, got %g", id, meta.ChunkInterval)
	}
	chunkDuration := meta.ChunkDuration
	if chunkDuration == 0 {
		chunkDuration = meta.ChunkInterval
	}
	if meta.ChunkInterval > chunkDuration {
		return Track{}, fmt.Errorf("track %s: chunk interval %g exceeds chunk duration %g", id, meta.ChunkInterval, chunkDuration)
	}

	return Track{
		ID:                   id,
		DurationSeconds:      meta.Duration,
		TotalChunks:          ChunkCount(meta.Duration, meta.ChunkInterval),
		ChunkDurationSeconds: chunkDuration,
		ChunkIntervalSeconds: meta.ChunkInterval,
		Format:               meta.AudioFormat(),
	}, nil
}

// AudioFormat returns the decode format announced by the metadata
func (m Metadata) AudioFormat() audio.Format {
	return audio.Format{
		Codec:      m.Format,
		SampleRate: m.SampleRate,
		Channels:   m.Channels,
		BitDepth:   m.BitDepth,
	}
}

// Whole describes a track delivered as a single chunk spanning its duration
func Whole(id string, duration float64, format audio.Format) Track {
	return Track{
		ID:                   id,
		DurationSeconds:      duration,
		TotalChunks:          1,
		ChunkDurationSeconds: duration,
		ChunkIntervalSeconds: duration,
		Format:               format,
	}
}

// ChunkCount returns ceil(duration / interval)
func ChunkCount(duration, interval float64) int {
	if duration <= 0 || interval <= 0 {
		return 0
	}
	return int(math.Ceil(duration / interval))
}

// Overlap is the window during which consecutive chunks both carry audio
func (t Track) Overlap() float64 {
	return t.ChunkDurationSeconds - t.ChunkIntervalSeconds
}

// ChunkStart returns the track time at which chunk index begins
func (t Track) ChunkStart(index int) float64 {
	return float64(index) * t.ChunkIntervalSeconds
}

// IsLast reports whether index is the final chunk
func (t Track) IsLast(index int) bool {
	return index >= t.TotalChunks-1
}

// Locate maps a track time to the chunk containing it and the offset into that chunk
func (t Track) Locate(seconds float64) (index int, offset float64) {
	if seconds < 0 {
		seconds = 0
	}
	if seconds > t.DurationSeconds {
		seconds = t.DurationSeconds
	}

	index = int(math.Floor(seconds / t.ChunkIntervalSeconds))
	if index > t.TotalChunks-1 {
		index = t.TotalChunks - 1
	}
	if index < 0 {
		index = 0
	}
	return index, seconds - t.ChunkStart(index)
}
