// ABOUTME: Latency estimation package
// ABOUTME: Derives the chunk fetch timeout from a sliding window of observed latencies
// Package latency keeps recent chunk fetch latencies and turns them into an
// adaptive timeout: a percentile of the window times a safety margin, clamped
// to bounds and only adopted when it moves by more than the hysteresis.
// A run of consecutive timeouts is treated as a regime change and resets the
// window.
package latency
