// ABOUTME: Opus audio decoder
// ABOUTME: Decodes length-prefixed Opus packet chunks to int32 samples
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is the largest Opus frame in samples per channel (120ms at 48kHz)
const maxOpusFrame = 5760

// OpusDecoder decodes Opus chunks. A chunk is a sequence of packets, each
// preceded by its length as a big-endian uint16.
type OpusDecoder struct {
	decoder *opus.Decoder
	format  audio.Format
}

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (Decoder, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder: dec,
		format:  format,
	}, nil
}

// Decode converts a packet sequence to a buffer
func (d *OpusDecoder) Decode(data []byte) (*audio.Buffer, error) {
	pcm16 := make([]int16, maxOpusFrame*d.format.Channels)
	var samples []int32

	for pos := 0; pos < len(data); {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("truncated opus packet header at byte %d", pos)
		}
		size := int(binary.BigEndian.Uint16(data[pos:]))
		pos += 2
		if pos+size > len(data) {
			return nil, fmt.Errorf("opus packet of %d bytes overruns chunk at byte %d", size, pos)
		}

		n, err := d.decoder.Decode(data[pos:pos+size], pcm16)
		if err != nil {
			return nil, fmt.Errorf("opus decode failed: %w", err)
		}
		pos += size

		for i := 0; i < n*d.format.Channels; i++ {
			samples = append(samples, audio.SampleFromInt16(pcm16[i]))
		}
	}

	return &audio.Buffer{
		Samples: samples,
		Format: audio.Format{
			Codec:      "opus",
			SampleRate: d.format.SampleRate,
			Channels:   d.format.Channels,
			BitDepth:   16,
		},
	}, nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
