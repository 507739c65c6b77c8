// ABOUTME: Linear resampler for converting decoded buffers between sample rates
// ABOUTME: Lets a device opened at one rate play chunks decoded at another
package resample

import "github.com/Resonate-Protocol/chunkplay/pkg/audio"

// Resampler performs linear interpolation between sample rates
type Resampler struct {
	channels int
	ratio    float64
	position float64
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		channels: channels,
		ratio:    float64(inputRate) / float64(outputRate),
	}
}

// Resample converts interleaved input into output, returning samples written
func (r *Resampler) Resample(input []int32, output []int32) int {
	inputFrames := len(input) / r.channels
	outputFrames := len(output) / r.channels
	if inputFrames == 0 {
		return 0
	}

	outIdx := 0
	for outIdx < outputFrames {
		inputIdx := int(r.position)
		if inputIdx >= inputFrames {
			break
		}

		frac := r.position - float64(inputIdx)
		next := inputIdx + 1
		if next >= inputFrames {
			// Hold the final frame rather than reading past the chunk
			next = inputIdx
		}

		for ch := 0; ch < r.channels; ch++ {
			s1 := input[inputIdx*r.channels+ch]
			s2 := input[next*r.channels+ch]
			output[outIdx*r.channels+ch] = int32(float64(s1)*(1.0-frac) + float64(s2)*frac)
		}

		outIdx++
		r.position += r.ratio
	}

	r.position = 0
	return outIdx * r.channels
}

// OutputSamplesNeeded calculates how many output samples inputSamples produce
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio + 0.5)
	return outputFrames * r.channels
}

// ToRate returns buf converted to rate, or buf itself when no conversion is needed
func ToRate(buf *audio.Buffer, rate int) *audio.Buffer {
	if buf == nil || rate <= 0 || buf.Format.SampleRate == rate || buf.Format.Channels <= 0 {
		return buf
	}

	r := New(buf.Format.SampleRate, rate, buf.Format.Channels)
	out := make([]int32, r.OutputSamplesNeeded(len(buf.Samples)))
	n := r.Resample(buf.Samples, out)

	format := buf.Format
	format.SampleRate = rate
	return &audio.Buffer{Samples: out[:n], Format: format}
}
