// ABOUTME: Player error types
// ABOUTME: Mode switch and media source initialization failures
package chunkplay

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned after Cleanup
	ErrClosed = errors.New("player closed")

	// ErrNoTrack is returned by playback controls before a track is loaded
	ErrNoTrack = errors.New("no track loaded")

	// ErrSuperseded is returned when a newer LoadTrack replaced the session mid-operation
	ErrSuperseded = errors.New("superseded by a newer track load")

	// ErrSwitchInProgress is returned when SetMode is called during another switch
	ErrSwitchInProgress = errors.New("mode switch already in progress")

	// ErrLoading is returned when SetMode is called while a track is loading
	ErrLoading = errors.New("track is loading")
)

// ModeSwitchError reports an aborted mode switch. The player stays in From.
type ModeSwitchError struct {
	From  Mode
	To    Mode
	Cause error
}

func (e *ModeSwitchError) Error() string {
	return fmt.Sprintf("failed to switch from %s to %s: %v", e.From, e.To, e.Cause)
}

func (e *ModeSwitchError) Unwrap() error {
	return e.Cause
}

// MediaSourceInitError reports that chunked delivery cannot start for a track
type MediaSourceInitError struct {
	TrackID string
	Cause   error
}

func (e *MediaSourceInitError) Error() string {
	return fmt.Sprintf("failed to initialize chunked source for %s: %v", e.TrackID, e.Cause)
}

func (e *MediaSourceInitError) Unwrap() error {
	return e.Cause
}
