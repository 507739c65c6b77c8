// ABOUTME: PCM audio decoder
// ABOUTME: Decodes 16-bit and 24-bit little-endian PCM to int32 samples
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
)

// PCMDecoder decodes raw PCM chunks
type PCMDecoder struct {
	format audio.Format
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (Decoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}

	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}

	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("pcm needs sample rate and channels, got %dHz %dch", format.SampleRate, format.Channels)
	}

	return &PCMDecoder{format: format}, nil
}

// Decode converts PCM bytes to a buffer
func (d *PCMDecoder) Decode(data []byte) (*audio.Buffer, error) {
	width := d.format.BitDepth / 8
	frameBytes := width * d.format.Channels
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("pcm payload of %d bytes is not a whole number of %d-byte frames", len(data), frameBytes)
	}

	numSamples := len(data) / width
	samples := make([]int32, numSamples)
	if width == 3 {
		for i := 0; i < numSamples; i++ {
			samples[i] = audio.SampleFrom24Bit([3]byte{data[i*3], data[i*3+1], data[i*3+2]})
		}
	} else {
		for i := 0; i < numSamples; i++ {
			samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
	}

	return &audio.Buffer{Samples: samples, Format: d.format}, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}
