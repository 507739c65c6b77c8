// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program and the command channel back to the player
package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/chunkplay/pkg/chunkplay"
)

// CommandKind names a player action requested from the UI
type CommandKind int

const (
	CommandPlay CommandKind = iota
	CommandPause
	CommandSeek
	CommandVolume
	CommandMode
	CommandPreset
)

// Command is a player action requested from the UI
type Command struct {
	Kind     CommandKind
	Position float64
	Volume   int
	Mode     chunkplay.Mode
	Preset   string
}

// Control holds channels from the UI to the player
type Control struct {
	Commands chan Command
	Quit     chan struct{}
}

// NewControl creates a new control handler
func NewControl() *Control {
	return &Control{
		Commands: make(chan Command, 10),
		Quit:     make(chan struct{}, 1),
	}
}

// NewModel creates a new TUI model
func NewModel(control *Control, presets []string) Model {
	return Model{
		volume:  100,
		state:   chunkplay.Idle,
		mode:    chunkplay.ModeChunked,
		presets: presets,
		control: control,
	}
}

// Run starts the TUI
func Run(control *Control, presets []string) *tea.Program {
	return tea.NewProgram(NewModel(control, presets), tea.WithAltScreen())
}
