// Package eventlog is an overlay listing recent connection events: state
// transitions with their close codes and retry delays, server error frames
// and notifications.
package eventlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/woedy/snelroi-chat/internal/realtime"
	"github.com/woedy/snelroi-chat/internal/theme"
)

const capacity = 200

// Kind classifies an entry.
type Kind string

const (
	KindSocket       Kind = "sock"
	KindError        Kind = "err"
	KindNotification Kind = "ntf"
)

// Entry is one log line.
type Entry struct {
	At      time.Time
	Kind    Kind
	Message string
}

// Model holds the most recent entries, oldest first.
type Model struct {
	entries []Entry
	// offset counts lines scrolled up from the newest entry.
	offset int
}

// New returns an empty log.
func New() Model { return Model{} }

// Add appends an entry, evicting the oldest past capacity, and scrolls back
// to the newest.
func (m *Model) Add(at time.Time, kind Kind, message string) {
	m.entries = append(m.entries, Entry{At: at, Kind: kind, Message: message})
	if over := len(m.entries) - capacity; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	m.offset = 0
}

// AddStatus records a lifecycle transition.
func (m *Model) AddStatus(at time.Time, ev realtime.StatusEvent) {
	var b strings.Builder
	b.WriteString(ev.State.String())
	if ev.State == realtime.StateReconnecting {
		fmt.Fprintf(&b, " attempt %d in %s", ev.Attempt, ev.Delay)
	}
	if ev.Code != 0 {
		fmt.Fprintf(&b, " (close %d)", ev.Code)
	}
	if ev.Err != nil {
		fmt.Fprintf(&b, ": %v", ev.Err)
	}
	kind := KindSocket
	if ev.State == realtime.StateFailed {
		kind = KindError
	}
	m.Add(at, kind, b.String())
}

// Len returns the number of entries held.
func (m Model) Len() int { return len(m.entries) }

// Entries returns a copy of the held entries, oldest first.
func (m Model) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Scroll moves the window by n lines; positive n scrolls toward older
// entries.
func (m *Model) Scroll(n int) {
	m.offset += n
	if oldest := len(m.entries) - 1; m.offset > oldest {
		m.offset = oldest
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

// View renders the log as a bordered panel.
func (m Model) View(width, height int) string {
	inner := width - 4
	if inner < 30 {
		inner = 30
	}
	rows := height - 6
	if rows < 3 {
		rows = 3
	}

	title := theme.StyleHeader.Render(" CONNECTION LOG ")
	footer := theme.StyleDimmed.Render(fmt.Sprintf("pgup/pgdn:scroll  ctrl+l:close  %d events", len(m.entries)))

	var body string
	if len(m.entries) == 0 {
		body = theme.StyleDimmed.Render("  No events yet.")
	} else {
		end := len(m.entries) - m.offset
		start := end - rows
		if start < 0 {
			start = 0
		}
		lines := make([]string, 0, end-start)
		for _, e := range m.entries[start:end] {
			msg := e.Message
			if limit := inner - 20; len(msg) > limit {
				msg = msg[:limit-3] + "..."
			}
			lines = append(lines, fmt.Sprintf("%s %s %s",
				theme.StyleDimmed.Render(e.At.Format("15:04:05.000")),
				lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(4).Render(string(e.Kind)),
				msg))
		}
		body = strings.Join(lines, "\n")
		if m.offset > 0 {
			body += "\n" + theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d newer", m.offset))
		}
	}

	return lipgloss.NewStyle().
		Width(inner).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", footer))
}

func kindColor(k Kind) lipgloss.Color {
	switch k {
	case KindSocket:
		return theme.ColorConnecting
	case KindError:
		return theme.ColorDanger
	case KindNotification:
		return theme.ColorWarning
	default:
		return theme.ColorDimmed
	}
}
