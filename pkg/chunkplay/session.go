// ABOUTME: Playback session and the delivery-mode player contract
// ABOUTME: A session lives from LoadTrack until the next LoadTrack or Cleanup
package chunkplay

import (
	"context"

	"github.com/google/uuid"

	"github.com/Resonate-Protocol/chunkplay/pkg/scheduler"
)

// session is owned by the player loop
type session struct {
	ID                string
	TrackID           string
	Mode              Mode
	Preset            string
	CurrentChunkIndex int
	PositionSeconds   float64
	State             State

	// autoplay records Play/Pause calls made while the track is loading
	autoplay bool
}

func newSession(trackID string, mode Mode, preset string) *session {
	return &session{
		ID:      uuid.New().String(),
		TrackID: trackID,
		Mode:    mode,
		Preset:  preset,
		State:   Loading,
	}
}

// modePlayer is one delivery mode. load runs off the player loop before
// the mode is installed; every other method runs on the loop.
type modePlayer interface {
	mode() Mode
	load(ctx context.Context, trackID string) error
	play()
	pause()
	seek(t float64)
	currentTime() float64
	duration() float64
	handle(e scheduler.Event)
	cleanup()
}

// modeSwitch holds what SetMode needs to resume or roll back
type modeSwitch struct {
	from       Mode
	to         Mode
	old        modePlayer
	prevState  State
	wasPlaying bool
	position   float64
}
