package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/woedy/snelroi-chat/internal/realtime"
	"github.com/woedy/snelroi-chat/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	State          realtime.State
	ConversationID string
	Attempt        int
	MaxAttempts    int
	RetryIn        time.Duration
	AgentOnline    bool
	Unread         int
	Width          int
}

// New creates a status bar model.
func New(maxAttempts int) Model {
	return Model{MaxAttempts: maxAttempts}
}

// Apply records a lifecycle transition.
func (m *Model) Apply(ev realtime.StatusEvent) {
	m.State = ev.State
	if ev.ConversationID != "" {
		m.ConversationID = ev.ConversationID
	}
	m.Attempt = ev.Attempt
	m.RetryIn = ev.Delay
	if ev.State != realtime.StateConnected {
		m.AgentOnline = false
	}
}

// Label returns the plain-text connection description.
func (m Model) Label() string {
	switch m.State {
	case realtime.StateConnecting:
		return "Connecting..."
	case realtime.StateConnected:
		return "Connected"
	case realtime.StateReconnecting:
		return fmt.Sprintf("Reconnecting in %s (attempt %d/%d)", m.RetryIn, m.Attempt, m.MaxAttempts)
	case realtime.StateDisconnected:
		return "Disconnected (ctrl+r to reconnect)"
	case realtime.StateFailed:
		return "Connection failed (ctrl+r to retry)"
	default:
		return "Offline"
	}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	state := m.State.String()
	connStr := lipgloss.NewStyle().
		Foreground(theme.StateColor(state)).
		Render(theme.StateGlyph(state) + " " + m.Label())

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr
	if m.ConversationID != "" {
		content += sep + "Conversation #" + m.ConversationID
	}

	agent := lipgloss.NewStyle().Foreground(theme.ColorDimmed).Render("agent away")
	if m.AgentOnline {
		agent = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("agent online")
	}
	content += sep + agent

	if m.Unread > 0 {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(fmt.Sprintf("%d unread", m.Unread))
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
