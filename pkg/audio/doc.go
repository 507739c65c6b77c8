// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Buffer types, buffer validation and sample conversion
// Package audio provides the decoded-audio types the rest of chunkplay passes around.
//
//   - Format: codec, sample rate, channels and bit depth of a chunk
//   - Buffer: interleaved PCM for one chunk or a whole track, with
//     helpers to measure its duration and cut a playback window
//
// Validate rejects empty or malformed buffers with an *InvalidBufferError
// so a bad chunk is reported instead of being scheduled.
//
// Sample helpers convert between 16-bit, 24-bit and left-justified int32.
//
// Example:
//
//	buf := &audio.Buffer{Samples: samples, Format: audio.Format{SampleRate: 48000, Channels: 2}}
//	if err := audio.Validate(3, buf); err != nil {
//	    return err
//	}
//	seconds := buf.Duration()
package audio
