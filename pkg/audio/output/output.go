// ABOUTME: Audio output interface definitions
// ABOUTME: Device clock, shared gain and one-shot buffer sources
package output

import (
	"errors"
	"time"

	"github.com/Resonate-Protocol/chunkplay/pkg/audio"
)

// ErrSourceStopped is returned when stopping a source that already ended or stopped
var ErrSourceStopped = errors.New("source already stopped")

// ErrSourceStarted is returned when a source is started twice
var ErrSourceStarted = errors.New("source already started")

// Device represents an audio output device
type Device interface {
	// Open initializes the output device
	Open(sampleRate, channels int) error

	// Now returns the device clock position
	Now() time.Duration

	// NewSource wraps a decoded buffer for one-shot playback
	NewSource(buf *audio.Buffer) (Source, error)

	// SetGain sets the shared gain applied to every source (0.0-1.0)
	SetGain(gain float64)

	// Gain returns the shared gain
	Gain() float64

	// Close releases output resources
	Close() error
}

// Source is a one-shot playback of a decoded buffer
type Source interface {
	// Start plays duration of the buffer beginning at offset, at device time when
	Start(when, offset, duration time.Duration) error

	// Stop halts playback; ended handlers still run
	Stop() error

	// OnEnded registers the end-of-playback handler
	OnEnded(f func())
}

// clampGain keeps a gain value within [0, 1]
func clampGain(gain float64) float64 {
	if gain < 0 {
		return 0
	}
	if gain > 1 {
		return 1
	}
	return gain
}
