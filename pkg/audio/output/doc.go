// ABOUTME: Audio output package for scheduled buffer playback
// ABOUTME: Provides the Device/Source primitive with oto and virtual backends
// Package output provides the audio-output primitive the scheduler drives.
//
// A Device owns the hardware clock and the shared gain. Each decoded buffer
// becomes a one-shot Source that starts at a device-clock time, plays a
// window of the buffer and reports when it ends.
//
// Backends:
//   - Oto: real playback through ebitengine/oto
//   - Virtual: headless, clock-driven; used for tests and --null-output
//
// Example:
//
//	dev := output.NewOto()
//	err := dev.Open(48000, 2)
//	src, err := dev.NewSource(buf)
//	src.OnEnded(func() { log.Print("done") })
//	err = src.Start(dev.Now(), 0, 10*time.Second)
package output
