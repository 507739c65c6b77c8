// ABOUTME: Audio resampling package
// ABOUTME: Converts decoded buffers to the output device's sample rate
// Package resample provides linear-interpolation sample rate conversion.
//
// The output device is opened once per process; when a delivery mode
// produces buffers at a different rate they are converted before playback.
//
// Example:
//
//	out := resample.ToRate(buf, 48000)
package resample
