// Package scheduler plays decoded chunks on an output device.
//
// A Scheduler owns the device clock and gain. PlayChunk starts one buffer
// at a sample offset, stopping whatever was sounding before, and arms a
// timer at the start of the overlap window that asks the caller for the
// next chunk. The TimingReference maps device time to track time and is
// re-anchored on every transition except a seamless continuation.
//
// Events are delivered to subscribers from timer and device goroutines.
// Handlers must not block.
package scheduler
