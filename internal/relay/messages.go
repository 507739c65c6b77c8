// ABOUTME: Relay wire messages
// ABOUTME: JSON envelopes for player events pushed out and commands read in
package relay

import (
	"github.com/Resonate-Protocol/chunkplay/pkg/chunkplay"
)

// Message types
const (
	TypeHello   = "relay/hello"
	TypeEvent   = "player/event"
	TypeCommand = "player/command"
	TypeResult  = "player/result"
	TypeError   = "relay/error"
)

// Command names accepted in a Command message
const (
	CommandPlay      = "play"
	CommandPause     = "pause"
	CommandSeek      = "seek"
	CommandSetMode   = "set_mode"
	CommandSetPreset = "set_preset"
	CommandVolume    = "volume"
	CommandStatus    = "status"
)

// Message is the top-level wrapper for all relay messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// inbound is a Message whose payload is decoded in a second step
type inbound struct {
	Type    string  `json:"type"`
	Payload Command `json:"payload"`
}

// Hello is sent to every client on connect
type Hello struct {
	ClientID string `json:"client_id"`
	Product  string `json:"product"`
	Version  string `json:"version"`
	Status   Status `json:"status"`
}

// Status mirrors chunkplay.Status for the wire
type Status struct {
	State       chunkplay.State `json:"state"`
	Mode        chunkplay.Mode  `json:"mode"`
	Preset      string          `json:"preset"`
	TrackID     string          `json:"track_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	CurrentTime float64         `json:"current_time"`
	Duration    float64         `json:"duration"`
	Volume      int             `json:"volume"`
	TimeoutMS   int64           `json:"fetch_timeout_ms"`
}

// Event is a player event on the wire
type Event struct {
	Name        chunkplay.EventName `json:"name"`
	Old         *chunkplay.State    `json:"old,omitempty"`
	New         *chunkplay.State    `json:"new,omitempty"`
	CurrentTime *float64            `json:"current_time,omitempty"`
	Duration    *float64            `json:"duration,omitempty"`
	Error       string              `json:"error,omitempty"`
	Mode        chunkplay.Mode      `json:"mode,omitempty"`
	Preset      string              `json:"preset,omitempty"`
}

// Command asks the player to do something. ID is echoed in the Result.
type Command struct {
	ID       string         `json:"id,omitempty"`
	Command  string         `json:"command"`
	Position float64        `json:"position,omitempty"`
	Mode     chunkplay.Mode `json:"mode,omitempty"`
	Preset   string         `json:"preset,omitempty"`
	Volume   int            `json:"volume,omitempty"`
}

// Result answers a Command
type Result struct {
	ID      string  `json:"id,omitempty"`
	Command string  `json:"command"`
	OK      bool    `json:"ok"`
	Error   string  `json:"error,omitempty"`
	Status  *Status `json:"status,omitempty"`
}

func toStatus(st chunkplay.Status) Status {
	return Status{
		State:       st.State,
		Mode:        st.Mode,
		Preset:      st.Preset,
		TrackID:     st.TrackID,
		SessionID:   st.SessionID,
		CurrentTime: st.CurrentTime,
		Duration:    st.Duration,
		Volume:      st.Volume,
		TimeoutMS:   st.Latency.Timeout.Milliseconds(),
	}
}

func toEvent(ev chunkplay.Event) Event {
	out := Event{Name: ev.Name}
	switch ev.Name {
	case chunkplay.EventStateChange:
		old, next := ev.Old, ev.New
		out.Old, out.New = &old, &next
	case chunkplay.EventTimeUpdate:
		t, d := ev.CurrentTime, ev.Duration
		out.CurrentTime, out.Duration = &t, &d
	case chunkplay.EventError:
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
	case chunkplay.EventModeSwitched, chunkplay.EventPresetSwitched:
		out.Mode = ev.Mode
		out.Preset = ev.Preset
	}
	return out
}
