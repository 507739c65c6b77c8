// ABOUTME: Clock and cancellable timer package
// ABOUTME: Provides real and manually-advanced clocks for playback scheduling
// Package clock abstracts wall time and one-shot timers.
//
// Scheduling code asks a Clock for "fire once after d unless cancelled".
// Real uses the runtime timers; Manual only moves when Advance is called,
// which makes crossfade and retry timing deterministic in tests.
//
// Example:
//
//	c := clock.NewManual(time.Unix(0, 0))
//	t := c.AfterFunc(8*time.Second, func() { log.Print("fade") })
//	c.Advance(8 * time.Second) // fires
//	t.Stop()                   // false, already fired
package clock
