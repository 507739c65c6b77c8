// ABOUTME: Player states and delivery modes
// ABOUTME: String forms are used in events, logs and the relay protocol
package chunkplay

import "fmt"

// State is the player's playback state
type State int

const (
	Idle State = iota
	Loading
	Ready
	Playing
	Paused
	Buffering
	Switching
	Error
)

var stateNames = [...]string{
	Idle:      "idle",
	Loading:   "loading",
	Ready:     "ready",
	Playing:   "playing",
	Paused:    "paused",
	Buffering: "buffering",
	Switching: "switching",
	Error:     "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Mode selects how a track is delivered
type Mode string

const (
	// ModeChunked streams the track as overlapping chunks
	ModeChunked Mode = "chunked"
	// ModeEnhanced downloads the whole processed track before playing
	ModeEnhanced Mode = "enhanced"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeChunked, ModeEnhanced:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeChunked, ModeEnhanced)
	}
}
