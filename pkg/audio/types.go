// ABOUTME: Audio type definitions
// ABOUTME: Defines audio formats, decoded buffers and buffer validation
package audio

import (
	"fmt"
	"math"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Buffer represents decoded PCM audio for one chunk or a whole track.
// Samples are interleaved and left-justified in 24-bit range.
type Buffer struct {
	Samples []int32
	Format  Format
}

// Frames returns the number of sample frames in the buffer
func (b *Buffer) Frames() int {
	if b == nil || b.Format.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Format.Channels
}

// Duration returns the buffer length in seconds
func (b *Buffer) Duration() float64 {
	if b == nil || b.Format.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.Format.SampleRate)
}

// FrameAt converts a time offset into a frame index, clamped to the buffer
func (b *Buffer) FrameAt(seconds float64) int {
	if seconds <= 0 || b == nil {
		return 0
	}
	frame := int(math.Round(seconds * float64(b.Format.SampleRate)))
	if frame > b.Frames() {
		frame = b.Frames()
	}
	return frame
}

// Window returns the interleaved samples covering [offset, offset+duration)
func (b *Buffer) Window(offset, duration float64) []int32 {
	start := b.FrameAt(offset)
	end := b.FrameAt(offset + duration)
	if end < start {
		end = start
	}
	ch := b.Format.Channels
	return b.Samples[start*ch : end*ch]
}

// InvalidBufferError reports a decoded buffer that cannot be played
type InvalidBufferError struct {
	ChunkIndex int
	Reason     string
}

func (e *InvalidBufferError) Error() string {
	return fmt.Sprintf("invalid buffer for chunk %d: %s", e.ChunkIndex, e.Reason)
}

// Validate checks that a buffer is usable for playback
func Validate(chunkIndex int, b *Buffer) error {
	switch {
	case b == nil:
		return &InvalidBufferError{ChunkIndex: chunkIndex, Reason: "buffer is nil"}
	case b.Format.SampleRate <= 0:
		return &InvalidBufferError{ChunkIndex: chunkIndex, Reason: fmt.Sprintf("bad sample rate %d", b.Format.SampleRate)}
	case b.Format.Channels <= 0:
		return &InvalidBufferError{ChunkIndex: chunkIndex, Reason: fmt.Sprintf("bad channel count %d", b.Format.Channels)}
	case b.Frames() == 0:
		return &InvalidBufferError{ChunkIndex: chunkIndex, Reason: "buffer has no frames"}
	}
	return nil
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	// Left-shift to position 16-bit value in upper bits
	return int32(sample) << 8
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// ScaleToDepth shifts a sample of the given bit depth into the 24-bit range
func ScaleToDepth(sample int32, bitDepth int) int32 {
	switch {
	case bitDepth == 24:
		return sample
	case bitDepth < 24:
		return sample << uint(24-bitDepth)
	default:
		return sample >> uint(bitDepth-24)
	}
}
