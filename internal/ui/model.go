// ABOUTME: Bubbletea model for the chunkplay TUI
// ABOUTME: Renders player status and turns key presses into player commands
package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/chunkplay/pkg/chunkplay"
)

// seekStep is how far left/right move the playhead, in seconds
const seekStep = 10.0

// Model represents the TUI state
type Model struct {
	// Source
	serverURL string
	trackID   string

	// Playback
	state       chunkplay.State
	mode        chunkplay.Mode
	preset      string
	presets     []string
	currentTime float64
	duration    float64
	volume      int

	// Fetching
	timeout    time.Duration
	p50        time.Duration
	p95        time.Duration
	samples    int
	lastErr    string
	chunkTiers map[string]int

	// Debug
	showDebug bool

	control *Control

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderTrack()
	s += m.renderControls()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders source and state
func (m Model) renderHeader() string {
	server := m.serverURL
	if server == "" {
		server = "(none)"
	}

	return fmt.Sprintf(`┌─ chunkplay ──────────────────────────────────────────┐
│ Server: %-44s │
│ State:  %-44s │
├──────────────────────────────────────────────────────┤
`, truncate(server, 44), m.state.String())
}

// renderTrack renders the track, delivery mode and progress bar
func (m Model) renderTrack() string {
	if m.trackID == "" {
		return "│ No track                                             │\n"
	}

	preset := m.preset
	if preset == "" {
		preset = "-"
	}

	s := fmt.Sprintf("│ Track:  %-44s │\n", truncate(m.trackID, 44))
	s += fmt.Sprintf("│ Mode:   %-16s Preset: %-19s │\n", string(m.mode), truncate(preset, 19))
	s += "│                                                      │\n"
	s += fmt.Sprintf("│ [%s] %s / %s │\n",
		renderBar(int(m.currentTime*10), int(m.duration*10), 28),
		formatTime(m.currentTime), formatTime(m.duration))

	return s
}

// renderControls renders volume
func (m Model) renderControls() string {
	volumeBar := renderBar(m.volume, 100, 10)

	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %3d%%%-29s │\n",
		volumeBar, m.volume, "")
}

// renderStats renders fetch latency and the last error
func (m Model) renderStats() string {
	s := "├──────────────────────────────────────────────────────┤\n"
	s += fmt.Sprintf("│ Fetch:  timeout %-8s p50 %-8s p95 %-8s │\n",
		formatDuration(m.timeout), formatDuration(m.p50), formatDuration(m.p95))
	if m.lastErr != "" {
		s += fmt.Sprintf("│ Error:  %-44s │\n", truncate(m.lastErr, 44))
	}
	s += "│                                                      │\n"
	return s
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ space:Play/Pause ←/→:Seek ↑/↓:Vol m:Mode p:Preset q │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	s := "│ DEBUG:                                               │\n"
	s += fmt.Sprintf("│   Latency samples: %-33d │\n", m.samples)
	for _, tier := range sortedKeys(m.chunkTiers) {
		s += fmt.Sprintf("│   Tier %-12s %-32d │\n", truncate(tier, 12), m.chunkTiers[tier])
	}
	return s
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.control != nil {
			select {
			case m.control.Quit <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case " ":
		if m.state == chunkplay.Playing || m.state == chunkplay.Buffering {
			m.send(Command{Kind: CommandPause})
		} else {
			m.send(Command{Kind: CommandPlay})
		}
	case "left":
		m.currentTime = clampSeconds(m.currentTime-seekStep, m.duration)
		m.send(Command{Kind: CommandSeek, Position: m.currentTime})
	case "right":
		m.currentTime = clampSeconds(m.currentTime+seekStep, m.duration)
		m.send(Command{Kind: CommandSeek, Position: m.currentTime})
	case "up":
		if m.volume < 100 {
			m.volume += 5
			if m.volume > 100 {
				m.volume = 100
			}
			m.send(Command{Kind: CommandVolume, Volume: m.volume})
		}
	case "down":
		if m.volume > 0 {
			m.volume -= 5
			if m.volume < 0 {
				m.volume = 0
			}
			m.send(Command{Kind: CommandVolume, Volume: m.volume})
		}
	case "m":
		next := chunkplay.ModeEnhanced
		if m.mode == chunkplay.ModeEnhanced {
			next = chunkplay.ModeChunked
		}
		m.send(Command{Kind: CommandMode, Mode: next, Preset: m.preset})
	case "p":
		if len(m.presets) > 0 {
			m.send(Command{Kind: CommandPreset, Preset: nextPreset(m.presets, m.preset)})
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// send forwards a command without blocking the UI
func (m Model) send(cmd Command) {
	if m.control == nil {
		return
	}
	select {
	case m.control.Commands <- cmd:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.ServerURL != "" {
		m.serverURL = msg.ServerURL
	}
	if msg.Status != nil {
		st := msg.Status
		m.state = st.State
		m.mode = st.Mode
		m.preset = st.Preset
		m.trackID = st.TrackID
		m.currentTime = st.CurrentTime
		m.duration = st.Duration
		m.volume = st.Volume
		m.timeout = st.Latency.Timeout
		m.p50 = st.Latency.P50
		m.p95 = st.Latency.P95
		m.samples = st.Latency.Count
	}
	if msg.Err != nil {
		m.lastErr = msg.Err.Error()
	}
	if msg.ClearErr {
		m.lastErr = ""
	}
	if msg.Tiers != nil {
		m.chunkTiers = msg.Tiers
	}
}

// StatusMsg updates TUI state
type StatusMsg struct {
	ServerURL string
	Status    *chunkplay.Status
	Err       error
	ClearErr  bool
	Tiers     map[string]int
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := 0
	if max > 0 {
		filled = (value * width) / max
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func clampSeconds(t, duration float64) float64 {
	if t < 0 {
		return 0
	}
	if duration > 0 && t > duration {
		return duration
	}
	return t
}

func nextPreset(presets []string, current string) string {
	for i, p := range presets {
		if p == current {
			return presets[(i+1)%len(presets)]
		}
	}
	return presets[0]
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
